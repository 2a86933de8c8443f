package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Directory manages the listing of stored sessions. The listing is a cache
// of summaries rebuilt from the store on Refresh.
type Directory struct {
	store Store

	mu        sync.RWMutex
	summaries []Summary
	onDelete  []func(id string)
}

// NewDirectory creates a directory over store. The listing is empty until
// Refresh is called; use Open to load it immediately.
func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// Open creates a directory and loads its listing
func Open(ctx context.Context, store Store) (*Directory, error) {
	d := NewDirectory(store)
	if err := d.Refresh(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns the current summaries, most recent first after a refresh
func (d *Directory) List() []Summary {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Summary, len(d.summaries))
	copy(out, d.summaries)
	return out
}

// Refresh reloads sessions from the store and re-sorts them by recency
func (d *Directory) Refresh(ctx context.Context) error {
	sessions, err := d.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	summaries := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, Summarize(s))
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].Timestamp.Equal(summaries[j].Timestamp) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].Timestamp.After(summaries[j].Timestamp)
	})

	d.mu.Lock()
	d.summaries = summaries
	d.mu.Unlock()

	log.Debug().Int("count", len(summaries)).Msg("conversation directory refreshed")
	return nil
}

// Get loads the full session for id from the store
func (d *Directory) Get(ctx context.Context, id string) (*Session, error) {
	return d.store.Get(ctx, id)
}

// Delete removes a session permanently. Deleting an unknown or already
// deleted ID is a no-op. Confirmation is the caller's concern.
//
// Delete hooks run before the store removes the session, so a hook can stop
// its owner from saving id again before the removal happens.
func (d *Directory) Delete(ctx context.Context, id string) error {
	d.mu.RLock()
	hooks := append([]func(string){}, d.onDelete...)
	d.mu.RUnlock()

	for _, fn := range hooks {
		fn(id)
	}

	if err := d.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	d.mu.Lock()
	removed := false
	kept := d.summaries[:0:0]
	for _, s := range d.summaries {
		if s.ID == id {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	d.summaries = kept
	d.mu.Unlock()

	if removed {
		log.Info().Str("conversation", id).Msg("conversation deleted")
	}
	return nil
}

// OnDelete registers fn to run on every Delete, before the store removal
func (d *Directory) OnDelete(fn func(id string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDelete = append(d.onDelete, fn)
}
