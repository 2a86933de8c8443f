package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/diogo/boltchat/internal/history"
	"github.com/diogo/boltchat/internal/models"
	"github.com/diogo/boltchat/internal/session"
)

func (c *cli) newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage conversation history",
		Long: `View and manage your saved conversations.

Without a subcommand the interactive browser opens: navigate with the arrow
keys, press enter to resume, d to delete (with confirmation), r to refresh.

Conversations can be referenced by:
` + history.ListAliases(),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			selected, err := c.deps.TUI.RunHistoryManager(ctx, app.Directory)
			if err != nil {
				return fmt.Errorf("history browser failed: %w", err)
			}
			if selected.SelectedID == "" {
				return nil
			}
			if err := c.resume(ctx, app, selected.SelectedID); err != nil {
				return err
			}
			return c.chatLoop(ctx, cmd, app)
		},
	}

	cmd.AddCommand(c.newHistoryListCmd())
	cmd.AddCommand(c.newHistoryShowCmd())
	cmd.AddCommand(c.newHistoryDeleteCmd())
	cmd.AddCommand(c.newHistoryExportCmd())
	cmd.AddCommand(c.newHistoryClearCmd())
	cmd.AddCommand(c.newHistorySearchCmd())
	return cmd
}

// withApp opens the application for a history subcommand
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	app, err := c.newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func (c *cli) newHistoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *App) error {
				return printSummaries(cmd.OutOrStdout(), app.Directory.List(), time.Now())
			})
		},
	}
}

func printSummaries(out io.Writer, summaries []session.Summary, now time.Time) error {
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No conversations found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tID\tTITLE\tTAG\tMESSAGES\tUPDATED")
	_, _ = fmt.Fprintln(w, "-\t--\t-----\t---\t--------\t-------")

	for i, sum := range summaries {
		tag := sum.TagLabel
		if tag == "" {
			tag = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			i+1, sum.ID, truncate(sum.Title, 40), tag, sum.MessageCount, session.FormatAge(sum.Timestamp, now))
	}

	return w.Flush()
}

func (c *cli) newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <ref>",
		Short: "Show a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *App) error {
				conv, err := history.NewResolver(app.Store).ResolveSession(ctx, args[0])
				if err != nil {
					return err
				}
				printConversation(cmd.OutOrStdout(), conv)
				return nil
			})
		},
	}
}

func printConversation(out io.Writer, conv *session.Session) {
	sum := session.Summarize(conv)

	fmt.Fprintf(out, "ID: %s\n", conv.ID)
	fmt.Fprintf(out, "Title: %s\n", conv.Title)
	if sum.TagLabel != "" {
		fmt.Fprintf(out, "Topic: %s\n", sum.TagLabel)
	}
	fmt.Fprintf(out, "Created: %s\n", conv.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Updated: %s\n", conv.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Messages: %d\n", len(conv.Messages))
	fmt.Fprintln(out)

	for i, msg := range conv.Messages {
		role := "You"
		if msg.Sender == session.SenderAssistant {
			role = models.AssistantName
		}
		fmt.Fprintf(out, "[%d] %s (%s):\n", i+1, role, msg.CreatedAt.Format("15:04"))
		fmt.Fprintf(out, "  %s\n\n", msg.Text)
	}
}

func (c *cli) newHistoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <ref>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *App) error {
				id, err := history.NewResolver(app.Store).Resolve(ctx, args[0])
				if err != nil {
					return err
				}
				if err := app.Directory.Delete(ctx, id); err != nil {
					return fmt.Errorf("failed to delete: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted conversation: %s\n", id)
				return nil
			})
		},
	}
}

func (c *cli) newHistoryExportCmd() *cobra.Command {
	var (
		output string
		format string
	)

	cmd := &cobra.Command{
		Use:   "export <ref>",
		Short: "Export a conversation as markdown or JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := format
			if name == "" && output != "" {
				name = filepath.Ext(output)
			}
			exportFormat, err := history.ParseExportFormat(name)
			if err != nil {
				return err
			}

			return c.withApp(cmd, func(ctx context.Context, app *App) error {
				conv, err := history.NewResolver(app.Store).ResolveSession(ctx, args[0])
				if err != nil {
					return err
				}
				data, err := history.Export(conv, exportFormat)
				if err != nil {
					return err
				}

				if output == "" {
					_, err := cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return fmt.Errorf("failed to write export: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s to %s\n", conv.ID, output)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	cmd.Flags().StringVar(&format, "format", "", "Export format: markdown or json (default from the output extension)")
	return cmd
}

func (c *cli) newHistoryClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *App) error {
				summaries := app.Directory.List()
				for _, sum := range summaries {
					if err := app.Directory.Delete(ctx, sum.ID); err != nil {
						return fmt.Errorf("failed to clear history: %w", err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d conversations.\n", len(summaries))
				return nil
			})
		},
	}
}

func (c *cli) newHistorySearchCmd() *cobra.Command {
	var content bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search conversation titles (and messages with --content)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, app *App) error {
				results, err := history.Search(ctx, app.Store, args[0], content)
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}

				out := cmd.OutOrStdout()
				if len(results) == 0 {
					fmt.Fprintf(out, "No conversations matching %q.\n", args[0])
					return nil
				}
				for _, r := range results {
					fmt.Fprintf(out, "%s  %s\n", r.Conversation.ID, truncate(r.Conversation.Title, 50))
					if r.MatchField == "content" {
						fmt.Fprintf(out, "    %s\n", r.MatchSnippet)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&content, "content", false, "Also search message text")
	return cmd
}

// truncate shortens s to maxLen runes, adding "..." when cut
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
