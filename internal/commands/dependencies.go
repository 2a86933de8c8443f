package commands

import (
	"context"
	"os"

	"github.com/atotto/clipboard"
	"golang.org/x/term"

	"github.com/diogo/boltchat/internal/api"
	"github.com/diogo/boltchat/internal/conversation"
	"github.com/diogo/boltchat/internal/credential"
	"github.com/diogo/boltchat/internal/session"
	"github.com/diogo/boltchat/internal/tui"
)

// TUIInterface defines the methods required from the TUI package.
type TUIInterface interface {
	RunChat(ctx context.Context, engine *conversation.Engine, opts tui.ChatOptions) (tui.ChatResult, error)
	RunHistoryManager(ctx context.Context, dir tui.HistoryDirectory) (tui.HistoryManagerResult, error)
}

// Dependencies holds the external dependencies for the commands.
// This allows for dependency injection and easier testing.
type Dependencies struct {
	// TUI is the terminal user interface.
	TUI TUIInterface

	// Completer replaces the HTTP completion client when set.
	Completer api.Completer

	// Credentials replaces the configured credential backend when set.
	Credentials credential.Store

	// Store replaces the configured conversation store when set.
	Store session.Store

	// ReadSecret reads a line from the terminal without echo.
	ReadSecret func() (string, error)

	// Clipboard copies text to the system clipboard.
	Clipboard func(string) error
}

// DefaultTUI is the production implementation of TUIInterface.
type DefaultTUI struct{}

func (d *DefaultTUI) RunChat(ctx context.Context, engine *conversation.Engine, opts tui.ChatOptions) (tui.ChatResult, error) {
	return tui.RunChat(ctx, engine, opts)
}

func (d *DefaultTUI) RunHistoryManager(ctx context.Context, dir tui.HistoryDirectory) (tui.HistoryManagerResult, error) {
	return tui.RunHistoryManager(ctx, dir)
}

// NewDependencies creates a new Dependencies struct with default implementations.
func NewDependencies() *Dependencies {
	return &Dependencies{
		TUI:        &DefaultTUI{},
		ReadSecret: readPassword,
		Clipboard:  clipboard.WriteAll,
	}
}

func readPassword() (string, error) {
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
