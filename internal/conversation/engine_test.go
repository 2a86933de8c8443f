package conversation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/diogo/boltchat/internal/api"
	"github.com/diogo/boltchat/internal/credential"
	apierrors "github.com/diogo/boltchat/internal/errors"
	"github.com/diogo/boltchat/internal/models"
	"github.com/diogo/boltchat/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func withKey(t *testing.T) *credential.MemoryStore {
	t.Helper()
	creds := credential.NewMemoryStore()
	require.NoError(t, creds.Set("sk-test-key"))
	return creds
}

func newEngine(t *testing.T, completer api.Completer, creds credential.Reader, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(completer, creds, opts...)
	require.NoError(t, err)
	return e
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) notices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == EventNotice {
			out = append(out, ev.Notice)
		}
	}
	return out
}

type fakeDoer struct {
	status int
	body   string
	err    error
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
		Header:     http.Header{},
	}, nil
}

func TestNewEngine(t *testing.T) {
	_, err := NewEngine(nil, credential.NewMemoryStore())
	assert.Error(t, err)

	_, err = NewEngine(&api.MockCompleter{}, nil)
	assert.Error(t, err)

	e := newEngine(t, &api.MockCompleter{}, credential.NewMemoryStore())
	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, session.SenderAssistant, msgs[0].Sender)
	assert.Equal(t, models.WelcomeText, msgs[0].Text)
	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, models.PersonaPrompt, e.SystemPrompt())
}

func TestSend_AppendsTwoMessagesPerCycle(t *testing.T) {
	mock := &api.MockCompleter{Reply: "sure"}
	e := newEngine(t, mock, withKey(t))

	for i := 1; i <= 3; i++ {
		before := len(e.Messages())
		res := e.Send(context.Background(), "question")
		require.Equal(t, OutcomeReplied, res.Outcome)
		assert.Len(t, e.Messages(), before+2)
		assert.Equal(t, StateIdle, e.State())
	}

	msgs := e.Messages()
	assert.Equal(t, session.SenderUser, msgs[len(msgs)-2].Sender)
	assert.Equal(t, session.SenderAssistant, msgs[len(msgs)-1].Sender)
}

func TestSend_ReplyFromEndpointIsExact(t *testing.T) {
	creds := withKey(t)
	client, err := api.NewClient(creds, api.WithHTTPClient(&fakeDoer{
		status: 200,
		body:   `{"choices":[{"message":{"content":"42"}}]}`,
	}))
	require.NoError(t, err)

	e := newEngine(t, client, creds)
	res := e.Send(context.Background(), "What is the answer?")

	require.Equal(t, OutcomeReplied, res.Outcome)
	require.NotNil(t, res.Assistant)
	assert.Equal(t, "42", res.Assistant.Text)

	msgs := e.Messages()
	assert.Equal(t, "42", msgs[len(msgs)-1].Text)
}

func TestSend_PassesPersonaAndTrimmedText(t *testing.T) {
	mock := &api.MockCompleter{Reply: "ok"}
	e := newEngine(t, mock, withKey(t))

	res := e.Send(context.Background(), "   hello there \n")
	require.Equal(t, OutcomeReplied, res.Outcome)
	assert.Equal(t, "hello there", res.User.Text)
	assert.Equal(t, "hello there", mock.LastUserText())
	assert.Equal(t, models.PersonaPrompt, mock.LastSystemPrompt())
}

func TestSend_CustomSystemPrompt(t *testing.T) {
	mock := &api.MockCompleter{Reply: "ok"}
	e := newEngine(t, mock, withKey(t), WithSystemPrompt("Be brief."))

	e.Send(context.Background(), "hi")
	assert.Equal(t, "Be brief.", mock.LastSystemPrompt())
}

func TestSend_EmptyInputIsRejected(t *testing.T) {
	mock := &api.MockCompleter{Reply: "never"}
	e := newEngine(t, mock, withKey(t))

	for _, text := range []string{"", "   ", "\n\t"} {
		res := e.Send(context.Background(), text)
		assert.Equal(t, OutcomeInvalidInput, res.Outcome)
		assert.True(t, errors.Is(res.Err, apierrors.ErrInvalidInput))
	}
	assert.Len(t, e.Messages(), 1)
	assert.Zero(t, mock.Calls())
}

func TestSend_NoCredentialNeverCallsClient(t *testing.T) {
	mock := &api.MockCompleter{Reply: "never"}
	e := newEngine(t, mock, credential.NewMemoryStore())
	rec := &recorder{}
	e.Subscribe(rec.record)

	res := e.Send(context.Background(), "hello")

	assert.Equal(t, OutcomeCredentialMissing, res.Outcome)
	assert.Zero(t, mock.Calls())
	assert.Len(t, e.Messages(), 3)
	require.NotNil(t, res.Assistant)
	assert.Contains(t, res.Assistant.Text, "configure")
	assert.Equal(t, models.MissingCredentialReply, res.Assistant.Text)
	assert.Equal(t, []string{res.Assistant.Text}, rec.notices())
	assert.Equal(t, StateIdle, e.State())
}

func TestSend_CredentialReadOnEverySend(t *testing.T) {
	creds := credential.NewMemoryStore()
	mock := &api.MockCompleter{Reply: "ok"}
	e := newEngine(t, mock, creds)

	assert.Equal(t, OutcomeCredentialMissing, e.Send(context.Background(), "one").Outcome)

	require.NoError(t, creds.Set("sk-now-present"))
	assert.Equal(t, OutcomeReplied, e.Send(context.Background(), "two").Outcome)

	require.NoError(t, creds.Clear())
	assert.Equal(t, OutcomeCredentialMissing, e.Send(context.Background(), "three").Outcome)
	assert.Equal(t, 1, mock.Calls())
}

func TestSend_TransportFailure(t *testing.T) {
	creds := withKey(t)
	client, err := api.NewClient(creds, api.WithHTTPClient(&fakeDoer{err: errors.New("connection refused")}))
	require.NoError(t, err)

	e := newEngine(t, client, creds)
	rec := &recorder{}
	e.Subscribe(rec.record)

	res := e.Send(context.Background(), "hello")

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, apierrors.KindUnreachable, apierrors.KindOf(res.Err))
	require.NotNil(t, res.Assistant)
	assert.NotEmpty(t, res.Assistant.Text)
	assert.True(t, strings.HasPrefix(res.Assistant.Text, "Error: "))
	assert.Equal(t, StateIdle, e.State())
	assert.Len(t, e.Messages(), 3)

	// the notice carries the same text as the log entry
	assert.Equal(t, []string{res.Assistant.Text}, rec.notices())
	assert.Equal(t, res.Assistant.Text, res.Notice)
}

func TestSend_RemoteRejectionUsesProviderMessage(t *testing.T) {
	creds := withKey(t)
	client, err := api.NewClient(creds, api.WithHTTPClient(&fakeDoer{
		status: 401,
		body:   `{"error":{"message":"Incorrect API key provided"}}`,
	}))
	require.NoError(t, err)

	e := newEngine(t, client, creds)
	res := e.Send(context.Background(), "hello")

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, apierrors.KindRemoteRejected, apierrors.KindOf(res.Err))
	assert.Equal(t, "Error: Incorrect API key provided", res.Assistant.Text)
}

func TestSend_EmptyReplyUsesFallback(t *testing.T) {
	e := newEngine(t, &api.MockCompleter{Reply: "   "}, withKey(t))

	res := e.Send(context.Background(), "hello")
	assert.Equal(t, OutcomeReplied, res.Outcome)
	assert.Equal(t, models.FallbackReply, res.Assistant.Text)
}

func TestSend_CompleterReportsMissingCredential(t *testing.T) {
	e := newEngine(t, &api.MockCompleter{Err: apierrors.ErrCredentialMissing}, withKey(t))

	res := e.Send(context.Background(), "hello")
	assert.Equal(t, OutcomeCredentialMissing, res.Outcome)
	assert.Equal(t, models.MissingCredentialReply, res.Assistant.Text)
}

func TestSend_DroppedWhileSending(t *testing.T) {
	mock := &api.MockCompleter{
		Reply:   "first reply",
		Release: make(chan struct{}),
		Started: make(chan struct{}, 1),
	}
	e := newEngine(t, mock, withKey(t))

	done := make(chan Result, 1)
	go func() {
		done <- e.Send(context.Background(), "first")
	}()

	<-mock.Started
	assert.Equal(t, StateSending, e.State())
	countDuringFlight := len(e.Messages())

	second := e.Send(context.Background(), "second")
	assert.Equal(t, OutcomeDropped, second.Outcome)
	assert.True(t, errors.Is(second.Err, apierrors.ErrBusy))
	assert.Nil(t, second.User)
	assert.Len(t, e.Messages(), countDuringFlight)

	mock.Release <- struct{}{}
	first := <-done

	assert.Equal(t, OutcomeReplied, first.Outcome)
	assert.Equal(t, "first reply", first.Assistant.Text)
	assert.Equal(t, 1, mock.Calls())
	assert.Len(t, e.Messages(), 3)
	assert.Equal(t, StateIdle, e.State())

	// the gate is released once the cycle ends
	mock.Release = nil
	mock.Started = nil
	assert.Equal(t, OutcomeReplied, e.Send(context.Background(), "third").Outcome)
}

func TestSend_ContextCancelled(t *testing.T) {
	mock := &api.MockCompleter{Release: make(chan struct{})}
	e := newEngine(t, mock, withKey(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := e.Send(ctx, "hello")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.NotEmpty(t, res.Assistant.Text)
	assert.Equal(t, StateIdle, e.State())
}

func TestSend_TruncatesLongInput(t *testing.T) {
	mock := &api.MockCompleter{Reply: "ok"}
	e := newEngine(t, mock, withKey(t))

	res := e.Send(context.Background(), strings.Repeat("日", models.MaxMessageLength+200))
	assert.Equal(t, models.MaxMessageLength, utf8.RuneCountInString(res.User.Text))
	assert.Equal(t, res.User.Text, mock.LastUserText())
}

func TestSend_EventOrder(t *testing.T) {
	e := newEngine(t, &api.MockCompleter{Reply: "ok"}, withKey(t))
	rec := &recorder{}
	unsubscribe := e.Subscribe(rec.record)

	e.Send(context.Background(), "hello")

	assert.Equal(t, []EventKind{
		EventMessageAppended,
		EventStateChanged,
		EventMessageAppended,
		EventStateChanged,
	}, rec.kinds())

	unsubscribe()
	e.Send(context.Background(), "again")
	assert.Len(t, rec.kinds(), 4)
}

func TestSend_ObserverMayCallEngine(t *testing.T) {
	e := newEngine(t, &api.MockCompleter{Reply: "ok"}, withKey(t))

	var seen []State
	e.Subscribe(func(ev Event) {
		seen = append(seen, e.State())
	})

	e.Send(context.Background(), "hello")
	assert.NotEmpty(t, seen)
}

func TestSend_UpdatedAtAdvances(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	e := newEngine(t, &api.MockCompleter{Reply: "ok"}, withKey(t), WithClock(now))

	before := e.Session().UpdatedAt
	e.Send(context.Background(), "hello")
	after := e.Session().UpdatedAt
	assert.True(t, after.After(before))
}

func TestSend_PersistsAfterCycle(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	e := newEngine(t, &api.MockCompleter{Reply: "ok"}, withKey(t), WithStore(store))

	e.Send(ctx, "remember me")

	saved, err := store.Get(ctx, e.SessionID())
	require.NoError(t, err)
	assert.Len(t, saved.Messages, 3)
	assert.Equal(t, "remember me", saved.Title)
}

type failingStore struct{ *session.MemoryStore }

func (failingStore) Put(context.Context, *session.Session) error {
	return errors.New("disk full")
}

func TestSend_PersistenceFailureIsNotAChatError(t *testing.T) {
	e := newEngine(t, &api.MockCompleter{Reply: "ok"}, withKey(t),
		WithStore(failingStore{session.NewMemoryStore()}))

	res := e.Send(context.Background(), "hello")
	assert.Equal(t, OutcomeReplied, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, "ok", e.Messages()[2].Text)
}

func TestNewSession(t *testing.T) {
	e := newEngine(t, &api.MockCompleter{Reply: "ok"}, withKey(t))
	e.Send(context.Background(), "hello")
	oldID := e.SessionID()

	rec := &recorder{}
	e.Subscribe(rec.record)
	require.NoError(t, e.NewSession())

	assert.NotEqual(t, oldID, e.SessionID())
	assert.Len(t, e.Messages(), 1)
	assert.Equal(t, []EventKind{EventSessionReplaced}, rec.kinds())
}

func TestResume(t *testing.T) {
	stored := session.New(time.Now())
	stored.Append(session.SenderUser, "earlier question", time.Now())

	e := newEngine(t, &api.MockCompleter{Reply: "ok"}, withKey(t))
	require.NoError(t, e.Resume(stored))
	assert.Equal(t, stored.ID, e.SessionID())
	assert.Len(t, e.Messages(), 2)

	// the engine works on its own copy
	stored.Append(session.SenderUser, "outside change", time.Now())
	assert.Len(t, e.Messages(), 2)

	assert.Error(t, e.Resume(nil))
	assert.Error(t, e.Resume(&session.Session{ID: "conv-empty"}))
}

func TestWithSession(t *testing.T) {
	stored := session.New(time.Now())
	e := newEngine(t, &api.MockCompleter{}, withKey(t), WithSession(stored))
	assert.Equal(t, stored.ID, e.SessionID())
}

func TestResumeAndNewSession_BusyWhileSending(t *testing.T) {
	mock := &api.MockCompleter{
		Reply:   "ok",
		Release: make(chan struct{}),
		Started: make(chan struct{}, 1),
	}
	e := newEngine(t, mock, withKey(t))

	done := make(chan Result, 1)
	go func() { done <- e.Send(context.Background(), "hello") }()
	<-mock.Started

	assert.True(t, errors.Is(e.NewSession(), apierrors.ErrBusy))
	assert.True(t, errors.Is(e.Resume(session.New(time.Now())), apierrors.ErrBusy))

	mock.Release <- struct{}{}
	<-done
	assert.NoError(t, e.NewSession())
}

func TestHandleDeleted_ActiveSessionIsReplaced(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	e := newEngine(t, &api.MockCompleter{Reply: "ok"}, withKey(t), WithStore(store))
	e.Send(ctx, "hello")
	activeID := e.SessionID()

	dir, err := session.Open(ctx, store)
	require.NoError(t, err)
	dir.OnDelete(e.HandleDeleted)

	rec := &recorder{}
	e.Subscribe(rec.record)

	require.NoError(t, dir.Delete(ctx, activeID))

	assert.NotEqual(t, activeID, e.SessionID())
	assert.Len(t, e.Messages(), 1)
	assert.Equal(t, []EventKind{EventSessionReplaced}, rec.kinds())
	assert.Empty(t, dir.List())
}

func TestHandleDeleted_OtherSessionIgnored(t *testing.T) {
	e := newEngine(t, &api.MockCompleter{Reply: "ok"}, withKey(t))
	e.Send(context.Background(), "hello")
	activeID := e.SessionID()

	e.HandleDeleted("conv-someone-else")
	assert.Equal(t, activeID, e.SessionID())
	assert.Len(t, e.Messages(), 3)
}

func TestHandleDeleted_WhileSendingDiscardsReply(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	mock := &api.MockCompleter{
		Reply:   "late reply",
		Release: make(chan struct{}),
		Started: make(chan struct{}, 1),
	}
	e := newEngine(t, mock, withKey(t), WithStore(store))
	deletedID := e.SessionID()

	done := make(chan Result, 1)
	go func() { done <- e.Send(ctx, "hello") }()
	<-mock.Started

	e.HandleDeleted(deletedID)
	mock.Release <- struct{}{}
	res := <-done

	assert.Equal(t, OutcomeReplied, res.Outcome)
	assert.NotEqual(t, deletedID, e.SessionID())
	assert.Len(t, e.Messages(), 1)
	assert.Equal(t, StateIdle, e.State())

	_, err := store.Get(ctx, deletedID)
	assert.True(t, errors.Is(err, apierrors.ErrNotFound))
}

// releasingStore lets the in-flight reply land right after the store
// removes a session, before Delete returns
type releasingStore struct {
	*session.MemoryStore
	release func()
}

func (s releasingStore) Delete(ctx context.Context, id string) error {
	err := s.MemoryStore.Delete(ctx, id)
	s.release()
	return err
}

func TestDirectoryDelete_InFlightReplyDoesNotRestoreConversation(t *testing.T) {
	ctx := context.Background()
	mock := &api.MockCompleter{
		Reply:   "late reply",
		Release: make(chan struct{}),
		Started: make(chan struct{}, 1),
	}
	done := make(chan Result, 1)
	store := releasingStore{
		MemoryStore: session.NewMemoryStore(),
		release: func() {
			mock.Release <- struct{}{}
			<-done
		},
	}

	e := newEngine(t, mock, withKey(t), WithStore(store))
	deletedID := e.SessionID()
	require.NoError(t, store.Put(ctx, e.Session()))

	dir, err := session.Open(ctx, store)
	require.NoError(t, err)
	dir.OnDelete(e.HandleDeleted)

	go func() { done <- e.Send(ctx, "hello") }()
	<-mock.Started

	require.NoError(t, dir.Delete(ctx, deletedID))

	_, err = store.Get(ctx, deletedID)
	assert.True(t, errors.Is(err, apierrors.ErrNotFound), "deleted conversation is back in the store")
	assert.NotEqual(t, deletedID, e.SessionID())
	assert.Empty(t, dir.List())
	assert.Equal(t, StateIdle, e.State())
}

func TestHandleDeleted_NeverSavesDeletedID(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	e := newEngine(t, &api.MockCompleter{Reply: "ok"}, withKey(t), WithStore(store))
	snapshot := e.Session()

	e.HandleDeleted(snapshot.ID)
	e.persist(ctx, snapshot)

	_, err := store.Get(ctx, snapshot.ID)
	assert.True(t, errors.Is(err, apierrors.ErrNotFound))

	// the replacement session is saved as usual
	e.Send(ctx, "hello")
	_, err = store.Get(ctx, e.SessionID())
	assert.NoError(t, err)
}

func TestFailureText(t *testing.T) {
	assert.Equal(t, "Error: boom", FailureText(errors.New("boom")))
	assert.Equal(t, "Error: unknown error", FailureText(errors.New("  ")))
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "sending", StateSending.String())
	assert.Equal(t, "dropped", OutcomeDropped.String())
	assert.Equal(t, "notice", EventNotice.String())
}
