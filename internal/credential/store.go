// Package credential holds the API key used to authenticate against the
// completion endpoint.
package credential

import (
	"errors"
	"strings"
	"sync/atomic"
)

// ErrInvalid is returned by Set for empty or masked values.
var ErrInvalid = errors.New("invalid API key")

// maskRune is the character used when displaying a stored key.
const maskRune = '•'

// Credential is a snapshot of the stored secret.
type Credential struct {
	Value   string
	Present bool
}

// Reader is the read side consumed by the completion client and the engine.
// Get must be safe to call concurrently with Set and Clear.
type Reader interface {
	Get() Credential
}

// Store is the full credential store used by the settings surface.
type Store interface {
	Reader
	Set(value string) error
	Clear() error
}

// MemoryStore keeps the credential in process memory only.
type MemoryStore struct {
	value atomic.Pointer[string]
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the current credential
func (s *MemoryStore) Get() Credential {
	v := s.value.Load()
	if v == nil || *v == "" {
		return Credential{}
	}
	return Credential{Value: *v, Present: true}
}

// Set stores a new credential after trimming it
func (s *MemoryStore) Set(value string) error {
	value, err := normalize(value)
	if err != nil {
		return err
	}
	s.value.Store(&value)
	return nil
}

// Clear removes the credential
func (s *MemoryStore) Clear() error {
	s.value.Store(nil)
	return nil
}

// normalize trims value and rejects empty input and masked placeholders that
// were echoed back from a display surface.
func normalize(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.ContainsRune(value, maskRune) {
		return "", ErrInvalid
	}
	return value, nil
}

// Mask renders a credential for display. Short values are fully masked; longer
// ones keep a 3 character prefix and a 4 character suffix.
func Mask(value string) string {
	runes := []rune(value)
	if len(runes) == 0 {
		return ""
	}
	if len(runes) < 12 {
		return strings.Repeat(string(maskRune), len(runes))
	}
	hidden := len(runes) - 7
	if hidden > 24 {
		hidden = 24
	}
	return string(runes[:3]) + strings.Repeat(string(maskRune), hidden) + string(runes[len(runes)-4:])
}

// Seed sets value on store when the store holds no credential yet. It reports
// whether the store was changed.
func Seed(store Store, value string) (bool, error) {
	if store.Get().Present || strings.TrimSpace(value) == "" {
		return false, nil
	}
	if err := store.Set(value); err != nil {
		return false, err
	}
	return true, nil
}
