package conversation

import "github.com/diogo/boltchat/internal/session"

// EventKind identifies what changed in the engine
type EventKind int

const (
	EventMessageAppended EventKind = iota
	EventStateChanged
	EventNotice
	EventSessionReplaced
)

func (k EventKind) String() string {
	switch k {
	case EventMessageAppended:
		return "message_appended"
	case EventStateChanged:
		return "state_changed"
	case EventNotice:
		return "notice"
	case EventSessionReplaced:
		return "session_replaced"
	default:
		return "unknown"
	}
}

// Event is delivered to observers after the engine changes. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind      EventKind
	SessionID string
	Message   *session.Message
	State     State
	Notice    string
}

// Subscribe registers fn for engine events and returns a function that
// removes it. Events are delivered synchronously on the goroutine that caused
// them, never while the engine lock is held, so fn may call back into the
// engine.
func (e *Engine) Subscribe(fn func(Event)) (unsubscribe func()) {
	e.mu.Lock()
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	}
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
