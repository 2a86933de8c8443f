package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/diogo/boltchat/internal/api"
	"github.com/diogo/boltchat/internal/config"
	"github.com/diogo/boltchat/internal/conversation"
	"github.com/diogo/boltchat/internal/credential"
	"github.com/diogo/boltchat/internal/history"
	"github.com/diogo/boltchat/internal/models"
	"github.com/diogo/boltchat/internal/session"
	"github.com/diogo/boltchat/internal/sqlitestore"
)

// App wires the engine, its collaborators and the session directory
type App struct {
	Config      config.Config
	Credentials credential.Reader
	Store       session.Store
	Directory   *session.Directory
	Engine      *conversation.Engine

	closers []io.Closer
}

// Close releases the store
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close store")
		}
	}
}

// newApp builds the full application: credentials, completion client,
// conversation store, directory and engine. Deleting the active conversation
// through the directory starts a new one in the engine.
func (c *cli) newApp(ctx context.Context, opts ...conversation.Option) (*App, error) {
	creds, err := c.credentials()
	if err != nil {
		return nil, err
	}

	store, closer, err := c.openStore()
	if err != nil {
		return nil, err
	}
	app := &App{Config: c.cfg, Credentials: creds, Store: store}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}

	engine, err := c.newEngine(creds, append([]conversation.Option{conversation.WithStore(store)}, opts...)...)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Engine = engine

	dir, err := session.Open(ctx, store)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	dir.OnDelete(engine.HandleDeleted)
	app.Directory = dir

	return app, nil
}

// newEngine creates an engine over the configured completion client
func (c *cli) newEngine(creds credential.Reader, opts ...conversation.Option) (*conversation.Engine, error) {
	completer := c.deps.Completer
	if completer == nil {
		client, err := api.NewClient(creds,
			api.WithModel(models.ModelFromName(c.cfg.Model)),
			api.WithEndpoint(c.cfg.Endpoint),
			api.WithMaxTokens(c.cfg.MaxTokens),
			api.WithTimeout(time.Duration(c.cfg.TimeoutSeconds)*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create client: %w", err)
		}
		log.Debug().Str("endpoint", client.Endpoint()).Str("model", client.GetModel().Name).Msg("completion client ready")
		completer = client
	}

	opts = append(opts, conversation.WithSystemPrompt(c.cfg.SystemPrompt))
	return conversation.NewEngine(completer, creds, opts...)
}

// credentialBackend opens the store that key set/clear write to
func (c *cli) credentialBackend() (credential.Store, error) {
	if c.deps.Credentials != nil {
		return c.deps.Credentials, nil
	}

	switch c.cfg.CredentialBackend {
	case config.CredentialKeyring:
		store, err := credential.OpenKeyring(credential.KeyringService, credential.KeyringUser)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return credential.NewMemoryStore(), nil
	}
}

// credentials returns the key the engine uses. A stored key wins; otherwise
// the environment and then the build-time key are used for this process only.
func (c *cli) credentials() (credential.Reader, error) {
	backend, err := c.credentialBackend()
	if err != nil {
		log.Warn().Err(err).Msg("keyring unavailable, falling back to memory")
		backend = credential.NewMemoryStore()
	}
	if backend.Get().Present {
		return backend, nil
	}

	value, source := ambientKey()
	if value == "" {
		return backend, nil
	}

	mem := credential.NewMemoryStore()
	if _, err := credential.Seed(mem, value); err != nil {
		log.Warn().Str("source", source).Msg("ignoring invalid API key")
		return backend, nil
	}
	log.Debug().Str("source", source).Msg("using API key")
	return mem, nil
}

// ambientKey returns a key supplied without a store, and where it came from
func ambientKey() (value, source string) {
	if value, source = config.EnvAPIKey(); value != "" {
		return value, source
	}
	if DefaultAPIKey != "" {
		return DefaultAPIKey, "build"
	}
	return "", ""
}

// storeLocation describes where store keeps conversations
func storeLocation(store session.Store) string {
	if p, ok := store.(interface{ Path() string }); ok {
		return p.Path()
	}
	return "(memory, not saved)"
}

// openStore opens the configured conversation store
func (c *cli) openStore() (session.Store, io.Closer, error) {
	if c.deps.Store != nil {
		return c.deps.Store, nil, nil
	}

	if c.cfg.Storage == config.StorageMemory {
		return session.NewMemoryStore(), nil, nil
	}

	dir, err := config.EnsureConfigDir()
	if err != nil {
		return nil, nil, err
	}

	switch c.cfg.Storage {
	case config.StorageSQLite:
		store, err := sqlitestore.Open(filepath.Join(dir, sqlitestore.FileName))
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		store, err := history.NewStore(dir)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
}
