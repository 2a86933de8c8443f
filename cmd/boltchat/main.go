// Command boltchat is a terminal client for an OpenAI chat-completions assistant.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/diogo/boltchat/internal/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	commands.Execute(ctx)
}
