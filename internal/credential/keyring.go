package credential

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name under which the key is stored
	KeyringService = "boltchat"
	// KeyringUser is the account name under which the key is stored
	KeyringUser = "openai-api-key"
)

// KeyringStore persists the credential in the operating system keyring and
// serves reads from an in-memory snapshot, so Get never touches the keyring.
type KeyringStore struct {
	service string
	user    string
	cache   MemoryStore
}

// OpenKeyring loads any stored credential from the OS keyring.
// A missing entry is not an error.
func OpenKeyring(service, user string) (*KeyringStore, error) {
	s := &KeyringStore{service: service, user: user}

	value, err := keyring.Get(service, user)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		log.Debug().Str("service", service).Msg("no API key in keyring")
	case err != nil:
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	default:
		if err := s.cache.Set(value); err != nil {
			log.Warn().Str("service", service).Msg("ignoring invalid API key stored in keyring")
		}
	}

	return s, nil
}

// Get returns the cached credential
func (s *KeyringStore) Get() Credential {
	return s.cache.Get()
}

// Set writes the credential to the keyring and the cache
func (s *KeyringStore) Set(value string) error {
	value, err := normalize(value)
	if err != nil {
		return err
	}
	if err := keyring.Set(s.service, s.user, value); err != nil {
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return s.cache.Set(value)
}

// Clear removes the credential from the keyring and the cache
func (s *KeyringStore) Clear() error {
	if err := keyring.Delete(s.service, s.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keyring entry: %w", err)
	}
	return s.cache.Clear()
}
