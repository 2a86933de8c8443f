// Package session defines conversation sessions, their listing summaries and
// the directory that manages stored sessions.
package session

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/diogo/boltchat/internal/models"
)

// Sender identifies who authored a message
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// DefaultTitle is the title of a session with no user message yet
const DefaultTitle = "New conversation"

const titleLimit = 50

// Message is one turn in a conversation. It is never modified after creation.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is an ordered, append-only log of messages
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewID returns a new session ID
func NewID() string {
	return "conv-" + uuid.NewString()
}

// New creates a session seeded with the assistant welcome message
func New(now time.Time) *Session {
	s := &Session{
		ID:        NewID(),
		Title:     DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Append(SenderAssistant, models.WelcomeText, now)
	return s
}

// Append adds a message and advances UpdatedAt. UpdatedAt never moves
// backwards, even if now is earlier than the last update.
func (s *Session) Append(sender Sender, text string, now time.Time) Message {
	if now.Before(s.UpdatedAt) {
		now = s.UpdatedAt
	}

	msg := Message{
		ID:        uuid.NewString(),
		Text:      text,
		Sender:    sender,
		CreatedAt: now,
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = now

	if sender == SenderUser && s.Title == DefaultTitle {
		s.Title = truncate(text, titleLimit)
	}

	return msg
}

// Last returns the most recent message, or false for an empty session
func (s *Session) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone returns a deep copy of s
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	copy(c.Messages, s.Messages)
	return &c
}

// truncate cuts text to limit runes, appending "..." when cut
func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit]) + "..."
}
