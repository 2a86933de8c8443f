package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/diogo/boltchat/internal/history"
	"github.com/diogo/boltchat/internal/render"
	"github.com/diogo/boltchat/internal/tui"
)

func (c *cli) newChatCmd() *cobra.Command {
	var resume string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session with Bolt.

Each message is answered on its own; the conversation is saved after every
reply. Inside the chat:
  /new       start a new conversation
  /copy      copy the last reply to the clipboard
  /history   browse, resume or delete past conversations
  exit       leave (also quit, /exit, Esc or Ctrl+C)

Use --resume to continue a saved conversation:
` + history.ListAliases(),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if resume != "" {
				conv, err := history.NewResolver(app.Store).ResolveSession(ctx, resume)
				if err != nil {
					return fmt.Errorf("cannot resume %q: %w", resume, err)
				}
				if err := app.Engine.Resume(conv); err != nil {
					return err
				}
			}

			return c.chatLoop(ctx, cmd, app)
		},
	}

	cmd.Flags().StringVarP(&resume, "resume", "r", "", "Resume a saved conversation (@last, index, ID or title)")
	return cmd
}

// chatLoop runs the chat screen, switching to the history browser when asked
// and back to the chat with the chosen conversation.
func (c *cli) chatLoop(ctx context.Context, cmd *cobra.Command, app *App) error {
	if !app.Credentials.Get().Present {
		fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render("⚠ No API key configured. Run 'boltchat key set' or set OPENAI_API_KEY."))
	}

	opts := tui.ChatOptions{
		ModelName: app.Config.Model,
		Markdown:  render.FromConfig(app.Config.Markdown, getTerminalWidth()),
	}

	for {
		result, err := c.deps.TUI.RunChat(ctx, app.Engine, opts)
		if err != nil {
			return fmt.Errorf("chat failed: %w", err)
		}
		if !result.OpenHistory {
			return nil
		}

		selected, err := c.deps.TUI.RunHistoryManager(ctx, app.Directory)
		if err != nil {
			return fmt.Errorf("history browser failed: %w", err)
		}
		if selected.SelectedID == "" {
			continue
		}
		if err := c.resume(ctx, app, selected.SelectedID); err != nil {
			log.Warn().Err(err).Str("conversation", selected.SelectedID).Msg("resume failed")
			fmt.Fprintln(cmd.ErrOrStderr(), tui.FormatError(err))
		}
	}
}

func (c *cli) resume(ctx context.Context, app *App, id string) error {
	conv, err := app.Directory.Get(ctx, id)
	if err != nil {
		return err
	}
	return app.Engine.Resume(conv)
}
