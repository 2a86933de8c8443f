// Package commands provides CLI commands for boltchat.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/diogo/boltchat/internal/config"
	"github.com/diogo/boltchat/internal/logging"
	"github.com/diogo/boltchat/internal/models"
	"github.com/diogo/boltchat/internal/tui"
)

var (
	// BuildTime is set at build time
	BuildTime = "unknown"

	// DefaultAPIKey is an optional key baked in at build time with
	// -ldflags "-X github.com/diogo/boltchat/internal/commands.DefaultAPIKey=..."
	DefaultAPIKey = ""
)

// reportedError marks an error whose message was already shown to the user
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error {
	return e.error
}

// cli carries state shared by all commands of one invocation
type cli struct {
	deps *Dependencies

	logLevel  string
	logStderr bool
	model     string

	cfg       config.Config
	logCloser io.Closer
}

// NewRootCmd builds the command tree over deps
func NewRootCmd(deps *Dependencies) *cobra.Command {
	root, _ := newRoot(deps)
	return root
}

func newRoot(deps *Dependencies) (*cobra.Command, *cli) {
	if deps == nil {
		deps = NewDependencies()
	}
	c := &cli{deps: deps, cfg: config.DefaultConfig()}
	ask := &askOptions{}

	root := &cobra.Command{
		Use:   "boltchat [prompt]",
		Short: "Chat with Bolt, an AI software assistant",
		Long: `boltchat is a terminal client for an OpenAI chat-completions assistant.

Examples:
  boltchat chat                         Start interactive chat
  boltchat chat --resume @last          Continue the latest conversation
  boltchat "What is a goroutine?"       Send a single question
  boltchat -f prompt.md                 Read the question from a file
  cat prompt.md | boltchat              Read the question from stdin
  boltchat "Hello" -o response.md       Save the reply to a file
  boltchat key set                      Store your OpenAI API key
  boltchat history                      Browse past conversations`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				fmt.Fprintf(cmd.OutOrStdout(), "boltchat %s (built %s)\n", models.Version, BuildTime)
				return nil
			}

			prompt, ok, err := readPrompt(cmd, args, ask.file)
			if err != nil {
				return err
			}
			if !ok {
				return cmd.Help()
			}
			return c.runAsk(cmd, prompt, ask)
		},
	}

	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error, off)")
	root.PersistentFlags().BoolVar(&c.logStderr, "log-stderr", false, "Write logs to stderr instead of the log file")
	root.PersistentFlags().StringVarP(&c.model, "model", "m", "", "Model to use (e.g., gpt-4)")
	ask.bind(root)
	root.Flags().BoolP("version", "v", false, "Show version and exit")

	root.AddCommand(c.newChatCmd())
	root.AddCommand(c.newAskCmd())
	root.AddCommand(c.newHistoryCmd())
	root.AddCommand(c.newKeyCmd())
	root.AddCommand(c.newConfigCmd())

	return root, c
}

// setup loads the configuration and installs the logger
func (c *cli) setup() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if c.model != "" {
		cfg.Model = c.model
	}
	c.cfg = cfg

	level := cfg.LogLevel
	if c.logLevel != "" {
		level = c.logLevel
	}

	opts := logging.Options{Level: level, Stderr: c.logStderr}
	if !c.logStderr {
		if path, err := config.GetLogPath(); err == nil {
			opts.File = path
		}
	}

	closer, err := logging.Init(opts)
	if err != nil {
		return err
	}
	c.logCloser = closer

	log.Debug().
		Str("version", models.Version).
		Str("model", cfg.Model).
		Str("storage", cfg.Storage).
		Msg("boltchat starting")
	return nil
}

func (c *cli) close() {
	if c.logCloser != nil {
		_ = c.logCloser.Close()
	}
}

// Execute runs the root command with ctx and exits non-zero on failure
func Execute(ctx context.Context) {
	root, c := newRoot(NewDependencies())

	err := root.ExecuteContext(ctx)
	c.close()
	if err == nil {
		return
	}

	var reported reportedError
	if !errors.As(err, &reported) {
		fmt.Fprintln(os.Stderr, tui.FormatError(err))
	}
	os.Exit(1)
}
