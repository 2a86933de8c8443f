// Package conversation owns the active chat session and runs the
// send-and-reply cycle against a completion backend.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/diogo/boltchat/internal/api"
	"github.com/diogo/boltchat/internal/credential"
	apierrors "github.com/diogo/boltchat/internal/errors"
	"github.com/diogo/boltchat/internal/models"
	"github.com/diogo/boltchat/internal/session"
)

// State is the engine's position in the send cycle
type State int

const (
	StateIdle State = iota
	StateSending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome describes how a Send call ended
type Outcome int

const (
	// OutcomeReplied means the backend answered (possibly with the fallback text)
	OutcomeReplied Outcome = iota
	// OutcomeFailed means the backend call failed and an error entry was appended
	OutcomeFailed
	// OutcomeCredentialMissing means no call was made for lack of a credential
	OutcomeCredentialMissing
	// OutcomeDropped means another send was in flight; nothing was appended
	OutcomeDropped
	// OutcomeInvalidInput means the text was empty; nothing was appended
	OutcomeInvalidInput
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReplied:
		return "replied"
	case OutcomeFailed:
		return "failed"
	case OutcomeCredentialMissing:
		return "credential_missing"
	case OutcomeDropped:
		return "dropped"
	case OutcomeInvalidInput:
		return "invalid_input"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is returned by Send
type Result struct {
	Outcome   Outcome
	User      *session.Message
	Assistant *session.Message
	// Notice is the user-facing failure text, equal to the Assistant text
	// for failed and credential-missing sends
	Notice string
	Err    error
}

// Engine holds exactly one active session and serializes sends on it.
// A send attempted while another is in flight is dropped, not queued.
type Engine struct {
	completer    api.Completer
	credentials  credential.Reader
	store        session.Store
	systemPrompt string
	now          func() time.Time

	gate *semaphore.Weighted

	// persistMu orders saves against deletions; deleted holds the IDs
	// removed through HandleDeleted, which are never saved again.
	persistMu sync.Mutex
	deleted   map[string]struct{}

	mu           sync.Mutex
	active       *session.Session
	state        State
	observers    map[int]func(Event)
	nextObserver int
}

// Option configures an Engine
type Option func(*Engine)

// WithStore persists the active session after every completed cycle
func WithStore(store session.Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithSystemPrompt overrides the persona instruction sent with every request
func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) {
		if strings.TrimSpace(prompt) != "" {
			e.systemPrompt = prompt
		}
	}
}

// WithClock sets the time source for message timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSession starts the engine on an existing session instead of a new one
func WithSession(s *session.Session) Option {
	return func(e *Engine) {
		if s != nil && len(s.Messages) > 0 {
			e.active = s.Clone()
		}
	}
}

// NewEngine creates an engine with a fresh welcome-seeded session
func NewEngine(completer api.Completer, creds credential.Reader, opts ...Option) (*Engine, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if creds == nil {
		return nil, fmt.Errorf("credential reader is required")
	}

	e := &Engine{
		completer:    completer,
		credentials:  creds,
		systemPrompt: models.PersonaPrompt,
		now:          time.Now,
		gate:         semaphore.NewWeighted(1),
		observers:    make(map[int]func(Event)),
		deleted:      make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.active == nil {
		e.active = session.New(e.now())
	}

	return e, nil
}

// Send runs one cycle: append the user message, obtain a reply and append
// it. Every outcome that appends anything appends exactly two messages.
func (e *Engine) Send(ctx context.Context, text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Outcome: OutcomeInvalidInput, Err: apierrors.ErrInvalidInput}
	}

	if !e.gate.TryAcquire(1) {
		log.Debug().Msg("send dropped: another message is in flight")
		return Result{Outcome: OutcomeDropped, Err: apierrors.ErrBusy}
	}
	defer e.finish()

	text = truncateInput(text)

	e.mu.Lock()
	active := e.active
	userMsg := active.Append(session.SenderUser, text, e.now())
	e.state = StateSending
	sessionID := active.ID
	e.mu.Unlock()

	e.emit(Event{Kind: EventMessageAppended, SessionID: sessionID, Message: &userMsg})
	e.emit(Event{Kind: EventStateChanged, SessionID: sessionID, State: StateSending})

	reply, outcome, err := e.resolve(ctx, text)

	e.mu.Lock()
	assistantMsg := active.Append(session.SenderAssistant, reply, e.now())
	current := e.active == active
	snapshot := active.Clone()
	e.mu.Unlock()

	result := Result{Outcome: outcome, User: &userMsg, Assistant: &assistantMsg, Err: err}
	if outcome == OutcomeFailed || outcome == OutcomeCredentialMissing {
		result.Notice = reply
	}

	if !current {
		// the session was replaced mid-flight (deleted); its reply goes nowhere
		log.Info().Str("conversation", sessionID).Msg("reply discarded for replaced conversation")
		return result
	}

	e.emit(Event{Kind: EventMessageAppended, SessionID: sessionID, Message: &assistantMsg})
	if result.Notice != "" {
		e.emit(Event{Kind: EventNotice, SessionID: sessionID, Notice: result.Notice})
	}

	e.persist(ctx, snapshot)
	return result
}

// resolve produces the assistant text for a user message
func (e *Engine) resolve(ctx context.Context, text string) (string, Outcome, error) {
	if !e.credentials.Get().Present {
		log.Warn().Msg("send without credential")
		return models.MissingCredentialReply, OutcomeCredentialMissing, apierrors.ErrCredentialMissing
	}

	start := time.Now()
	reply, err := e.completer.Complete(ctx, e.systemPrompt, text)
	if err != nil {
		if errors.Is(err, apierrors.ErrCredentialMissing) {
			return models.MissingCredentialReply, OutcomeCredentialMissing, err
		}
		log.Error().
			Err(err).
			Str("kind", apierrors.KindOf(err).String()).
			Int("status", apierrors.GetHTTPStatus(err)).
			Dur("elapsed", time.Since(start)).
			Msg("completion failed")
		return FailureText(err), OutcomeFailed, err
	}

	log.Debug().Dur("elapsed", time.Since(start)).Int("reply_len", len(reply)).Msg("completion succeeded")

	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = models.FallbackReply
	}
	return reply, OutcomeReplied, nil
}

// FailureText is the assistant entry recorded for a failed completion
func FailureText(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "unknown error"
	}
	return "Error: " + msg
}

func (e *Engine) finish() {
	e.mu.Lock()
	changed := e.state != StateIdle
	e.state = StateIdle
	sessionID := e.active.ID
	e.mu.Unlock()

	e.gate.Release(1)

	if changed {
		e.emit(Event{Kind: EventStateChanged, SessionID: sessionID, State: StateIdle})
	}
}

func (e *Engine) persist(ctx context.Context, s *session.Session) {
	if e.store == nil {
		return
	}

	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	if _, gone := e.deleted[s.ID]; gone {
		log.Info().Str("conversation", s.ID).Msg("not saving deleted conversation")
		return
	}
	// the cycle completed; a cancelled caller must not lose it
	if err := e.store.Put(context.WithoutCancel(ctx), s); err != nil {
		log.Error().Err(err).Str("conversation", s.ID).Msg("failed to save conversation")
		return
	}
	log.Debug().Str("conversation", s.ID).Int("messages", len(s.Messages)).Msg("conversation saved")
}

// NewSession replaces the active session with a fresh one
func (e *Engine) NewSession() error {
	e.mu.Lock()
	if e.state == StateSending {
		e.mu.Unlock()
		return apierrors.ErrBusy
	}
	e.active = session.New(e.now())
	id := e.active.ID
	e.mu.Unlock()

	log.Info().Str("conversation", id).Msg("new conversation started")
	e.emit(Event{Kind: EventSessionReplaced, SessionID: id})
	return nil
}

// Resume makes a stored session the active one
func (e *Engine) Resume(s *session.Session) error {
	if s == nil || len(s.Messages) == 0 {
		return fmt.Errorf("cannot resume an empty conversation")
	}

	e.mu.Lock()
	if e.state == StateSending {
		e.mu.Unlock()
		return apierrors.ErrBusy
	}
	e.active = s.Clone()
	e.mu.Unlock()

	log.Info().Str("conversation", s.ID).Msg("conversation resumed")
	e.emit(Event{Kind: EventSessionReplaced, SessionID: s.ID})
	return nil
}

// HandleDeleted applies the delete-active-session policy: when id is the
// active session a fresh session takes its place. Other IDs are ignored.
// id is never saved again, so a reply still in flight cannot bring it back.
// It is meant to be registered with session.Directory.OnDelete.
func (e *Engine) HandleDeleted(id string) {
	e.persistMu.Lock()
	e.deleted[id] = struct{}{}
	e.persistMu.Unlock()

	e.mu.Lock()
	if e.active.ID != id {
		e.mu.Unlock()
		return
	}
	e.active = session.New(e.now())
	newID := e.active.ID
	e.mu.Unlock()

	log.Info().Str("deleted", id).Str("conversation", newID).Msg("active conversation deleted, starting a new one")
	e.emit(Event{Kind: EventSessionReplaced, SessionID: newID})
}

// Session returns a copy of the active session
func (e *Engine) Session() *session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active.Clone()
}

// SessionID returns the ID of the active session
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active.ID
}

// Messages returns a copy of the active session's messages
func (e *Engine) Messages() []session.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]session.Message, len(e.active.Messages))
	copy(out, e.active.Messages)
	return out
}

// State returns the current engine state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SystemPrompt returns the persona instruction sent with every request
func (e *Engine) SystemPrompt() string {
	return e.systemPrompt
}

func truncateInput(text string) string {
	if utf8.RuneCountInString(text) <= models.MaxMessageLength {
		return text
	}
	return string([]rune(text)[:models.MaxMessageLength])
}
