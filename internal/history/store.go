// Package history provides local conversation history storage as JSON files.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/diogo/boltchat/internal/session"
)

// Store persists sessions as one JSON file each under baseDir/history.
// It implements session.Store.
type Store struct {
	baseDir string
	mu      sync.RWMutex
}

var _ session.Store = (*Store)(nil)

// NewStore creates a new history store
func NewStore(baseDir string) (*Store, error) {
	historyDir := filepath.Join(baseDir, "history")
	if err := os.MkdirAll(historyDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	return &Store{
		baseDir: historyDir,
	}, nil
}

// Path returns the directory holding the conversation files
func (s *Store) Path() string {
	return s.baseDir
}

// Get retrieves a conversation by ID
func (s *Store) Get(_ context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadConversation(id)
}

// Put creates or replaces a conversation
func (s *Store) Put(_ context.Context, conv *session.Session) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation has no ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveConversation(conv)
}

// List returns all conversations, sorted by most recent.
// Unreadable files are skipped.
func (s *Store) List(_ context.Context) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var conversations []*session.Session
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".json")
		conv, err := s.loadConversation(id)
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping unreadable conversation")
			continue
		}
		conversations = append(conversations, conv)
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})

	return conversations, nil
}

// Delete removes a conversation. Removing a missing conversation is a no-op.
func (s *Store) Delete(_ context.Context, id string) error {
	path, err := s.conversationPath(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	return nil
}

// Internal methods

func (s *Store) conversationPath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid conversation id %q", id)
	}
	return filepath.Join(s.baseDir, id+".json"), nil
}

func (s *Store) loadConversation(id string) (*session.Session, error) {
	path, err := s.conversationPath(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, session.NotFound(id)
		}
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	var conv session.Session
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("failed to parse conversation: %w", err)
	}
	if conv.ID != id {
		return nil, fmt.Errorf("conversation file %s.json holds id %q", id, conv.ID)
	}

	return &conv, nil
}

func (s *Store) saveConversation(conv *session.Session) error {
	path, err := s.conversationPath(conv.ID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write conversation: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write conversation: %w", err)
	}

	return nil
}
