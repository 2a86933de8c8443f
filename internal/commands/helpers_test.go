package commands

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/diogo/boltchat/internal/api"
	"github.com/diogo/boltchat/internal/config"
	"github.com/diogo/boltchat/internal/conversation"
	"github.com/diogo/boltchat/internal/credential"
	"github.com/diogo/boltchat/internal/session"
	"github.com/diogo/boltchat/internal/tui"
)

const testKey = "sk-test-0123456789abcdef"

// fakeTUI records the screens the commands open
type fakeTUI struct {
	chatResults    []tui.ChatResult
	historyResults []tui.HistoryManagerResult

	// chatSessions holds the active session ID each time the chat opened
	chatSessions []string
	historyCalls int
}

func (f *fakeTUI) RunChat(_ context.Context, engine *conversation.Engine, _ tui.ChatOptions) (tui.ChatResult, error) {
	f.chatSessions = append(f.chatSessions, engine.SessionID())
	if len(f.chatResults) == 0 {
		return tui.ChatResult{}, nil
	}
	res := f.chatResults[0]
	f.chatResults = f.chatResults[1:]
	return res, nil
}

func (f *fakeTUI) RunHistoryManager(_ context.Context, _ tui.HistoryDirectory) (tui.HistoryManagerResult, error) {
	f.historyCalls++
	if len(f.historyResults) == 0 {
		return tui.HistoryManagerResult{}, nil
	}
	res := f.historyResults[0]
	f.historyResults = f.historyResults[1:]
	return res, nil
}

// testEnv is an isolated command environment
type testEnv struct {
	deps      *Dependencies
	tui       *fakeTUI
	completer *api.MockCompleter
	store     *session.MemoryStore
	creds     *credential.MemoryStore
	copied    []string
}

// newTestEnv isolates the config directory and the environment, and wires
// in-memory collaborators with a stored key.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv(config.HomeEnv, t.TempDir())
	for _, name := range config.APIKeyEnvVars {
		t.Setenv(name, "")
	}

	env := &testEnv{
		tui:       &fakeTUI{},
		completer: &api.MockCompleter{Reply: "Goroutines are lightweight threads."},
		store:     session.NewMemoryStore(),
		creds:     credential.NewMemoryStore(),
	}
	if err := env.creds.Set(testKey); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	env.deps = &Dependencies{
		TUI:         env.tui,
		Completer:   env.completer,
		Credentials: env.creds,
		Store:       env.store,
		ReadSecret:  func() (string, error) { return "", nil },
		Clipboard: func(s string) error {
			env.copied = append(env.copied, s)
			return nil
		},
	}
	return env
}

// run executes the root command with args and stdin
func (e *testEnv) run(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer

	root := NewRootCmd(e.deps)
	root.SetArgs(append(args, "--log-level", "off"))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))

	err = root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

var testEpoch = time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)

// putConversation stores a conversation with one exchange
func (e *testEnv) putConversation(t *testing.T, question string, age time.Duration) *session.Session {
	t.Helper()
	at := testEpoch.Add(-age)
	conv := session.New(at)
	conv.Append(session.SenderUser, question, at)
	conv.Append(session.SenderAssistant, "Answer to: "+question, at)
	if err := e.store.Put(context.Background(), conv); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	return conv
}
