package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/diogo/boltchat/internal/conversation"
	apierrors "github.com/diogo/boltchat/internal/errors"
	"github.com/diogo/boltchat/internal/models"
	"github.com/diogo/boltchat/internal/render"
	"github.com/diogo/boltchat/internal/tui"
)

// Gradient colors for animation
var gradientColors = []lipgloss.Color{
	lipgloss.Color("#ff6b6b"), // Red
	lipgloss.Color("#feca57"), // Yellow
	lipgloss.Color("#48dbfb"), // Cyan
	lipgloss.Color("#ff9ff3"), // Pink
	lipgloss.Color("#54a0ff"), // Blue
	lipgloss.Color("#5f27cd"), // Purple
	lipgloss.Color("#00d2d3"), // Teal
	lipgloss.Color("#1dd1a1"), // Green
}

var (
	colorText     = lipgloss.Color("#c0caf5")
	colorTextDim  = lipgloss.Color("#565f89")
	colorTextMute = lipgloss.Color("#3b4261")
	colorSuccess  = lipgloss.Color("#9ece6a")
	colorWarning  = lipgloss.Color("#e0af68")
	colorPrimary  = lipgloss.Color("#7aa2f7")
)

// Styles matching the chat TUI
var (
	assistantLabelStyle = lipgloss.NewStyle().
				Foreground(colorPrimary).
				Bold(true)

	assistantBubbleStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(colorPrimary).
				Foreground(colorText).
				Padding(0, 1).
				MarginTop(1).
				MarginBottom(1)

	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarning)
	dimStyle     = lipgloss.NewStyle().Foreground(colorTextDim)
)

// spinner handles the animated loading indicator
type spinner struct {
	out     io.Writer
	message string
	stop    chan struct{}
	done    chan struct{}
	mu      sync.Mutex
	frame   int
	stopped bool
}

// newSpinner creates a new animated spinner writing to out
func newSpinner(out io.Writer, message string) *spinner {
	return &spinner{
		out:     out,
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// start begins the animation
func (s *spinner) start() {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()

		// Hide cursor
		fmt.Fprint(s.out, "\033[?25l")

		for {
			select {
			case <-s.stop:
				// Clear line and show cursor
				fmt.Fprint(s.out, "\r\033[K\033[?25h")
				return
			case <-ticker.C:
				s.mu.Lock()
				s.render()
				s.frame++
				s.mu.Unlock()
			}
		}
	}()
}

// render draws the current animation frame
func (s *spinner) render() {
	chars := []string{"⣾", "⣽", "⣻", "⢿", "⡿", "⣟", "⣯", "⣷"}
	barChars := []string{"█", "█", "█", "█", "█", "█", "▓", "▒", "░"}

	spinIdx := s.frame % len(chars)
	spinColor := gradientColors[s.frame%len(gradientColors)]
	spinnerChar := lipgloss.NewStyle().Foreground(spinColor).Bold(true).Render(chars[spinIdx])

	barWidth := 16
	var bar strings.Builder
	for i := 0; i < barWidth; i++ {
		colorIdx := (i + s.frame) % len(gradientColors)
		charIdx := (i + s.frame/2) % len(barChars)
		style := lipgloss.NewStyle().Foreground(gradientColors[colorIdx])
		bar.WriteString(style.Render(barChars[charIdx]))
	}

	var dots strings.Builder
	numDots := (s.frame / 3) % 4
	for i := 0; i < 3; i++ {
		if i < numDots {
			dotColor := gradientColors[(s.frame+i)%len(gradientColors)]
			dots.WriteString(lipgloss.NewStyle().Foreground(dotColor).Render("●"))
		} else {
			dots.WriteString(lipgloss.NewStyle().Foreground(colorTextMute).Render("○"))
		}
	}

	msg := lipgloss.NewStyle().Foreground(colorText).Render(s.message)
	fmt.Fprintf(s.out, "\r\033[K%s %s %s %s", spinnerChar, bar.String(), msg, dots.String())
}

// stopOnce safely closes the stop channel only once
func (s *spinner) stopOnce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		close(s.stop)
		s.stopped = true
	}
}

// stopWithSuccess stops the spinner and shows success message
func (s *spinner) stopWithSuccess(message string) {
	s.stopOnce()
	<-s.done

	checkmark := lipgloss.NewStyle().Foreground(colorSuccess).Bold(true).Render("✓")
	fmt.Fprintf(s.out, "%s %s\n", checkmark, successStyle.Render(message))
}

// stopWithError stops the spinner
func (s *spinner) stopWithError() {
	s.stopOnce()
	<-s.done
}

// askOptions are the flags of a one-shot question
type askOptions struct {
	file   string
	output string
	copy   bool
	raw    bool
}

func (o *askOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.file, "file", "f", "", "Read the prompt from a file")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "Save the reply to a file")
	cmd.Flags().BoolVar(&o.copy, "copy", false, "Copy the reply to the clipboard")
	cmd.Flags().BoolVar(&o.raw, "raw", false, "Print only the reply text")
}

func (c *cli) newAskCmd() *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Ask a single question",
		Long: `Send one message to Bolt and print the reply.

The prompt comes from the argument, --file, or stdin. A failed request prints
the error and exits with a non-zero status.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, ok, err := readPrompt(cmd, args, opts.file)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no prompt given: pass it as an argument, with --file, or on stdin")
			}
			return c.runAsk(cmd, prompt, opts)
		},
	}
	opts.bind(cmd)
	return cmd
}

// readPrompt reads the prompt from the argument, the file, or piped stdin,
// in that order. ok is false when none was given.
func readPrompt(cmd *cobra.Command, args []string, file string) (prompt string, ok bool, err error) {
	if len(args) > 0 {
		return args[0], true, nil
	}

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", false, fmt.Errorf("failed to read file: %w", err)
		}
		return string(data), true, nil
	}

	in := cmd.InOrStdin()
	if f, isFile := in.(*os.File); isFile {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", false, nil
		}
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return "", false, fmt.Errorf("failed to read stdin: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", false, nil
	}
	return string(data), true, nil
}

// runAsk sends a single message through an engine without persisting it
func (c *cli) runAsk(cmd *cobra.Command, prompt string, opts *askOptions) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return fmt.Errorf("prompt cannot be empty")
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	raw := opts.raw || !isTerminal(out)

	creds, err := c.credentials()
	if err != nil {
		return err
	}
	engine, err := c.newEngine(creds)
	if err != nil {
		return err
	}

	var spin *spinner
	if !raw {
		spin = newSpinner(errOut, models.AssistantName+" is thinking")
		spin.start()
	}

	start := time.Now()
	result := engine.Send(cmd.Context(), prompt)
	log.Debug().
		Str("outcome", result.Outcome.String()).
		Dur("elapsed", time.Since(start)).
		Msg("ask finished")

	switch result.Outcome {
	case conversation.OutcomeReplied:
		if spin != nil {
			spin.stopWithSuccess("Done")
		}
	case conversation.OutcomeInvalidInput:
		if spin != nil {
			spin.stopWithError()
		}
		return fmt.Errorf("prompt cannot be empty")
	default:
		if spin != nil {
			spin.stopWithError()
		}
		fmt.Fprintln(errOut, result.Notice)
		if hint := formatErrorMessage(result.Err, "Request failed"); !raw && hint != "" {
			fmt.Fprintln(errOut, hint)
		}
		return reportedError{result.Err}
	}

	text := result.Assistant.Text

	if opts.copy || c.cfg.CopyToClipboard {
		c.copyReply(errOut, text)
	}

	if opts.output != "" {
		if err := os.WriteFile(opts.output, []byte(text), 0o644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !raw {
			fmt.Fprintln(errOut, successStyle.Render(fmt.Sprintf("✓ Response saved to %s", opts.output)))
		}
		return nil
	}

	if raw {
		fmt.Fprintln(out, text)
		return nil
	}

	bubbleWidth := getTerminalWidth() - 4
	if bubbleWidth < 40 {
		bubbleWidth = 40
	}
	if bubbleWidth > 120 {
		bubbleWidth = 120
	}
	contentWidth := bubbleWidth - 4

	fmt.Fprintln(out, assistantLabelStyle.Render("⚡ "+models.AssistantName))
	rendered := render.MarkdownOrPlain(text, render.FromConfig(c.cfg.Markdown, contentWidth))
	fmt.Fprintln(out, assistantBubbleStyle.Width(bubbleWidth).Render(rendered))
	return nil
}

func (c *cli) copyReply(errOut io.Writer, text string) {
	if c.deps.Clipboard == nil {
		return
	}
	if err := c.deps.Clipboard(text); err != nil {
		log.Warn().Err(err).Msg("clipboard copy failed")
		fmt.Fprintln(errOut, warningStyle.Render(fmt.Sprintf("⚠ Failed to copy to clipboard: %v", err)))
		return
	}
	fmt.Fprintln(errOut, successStyle.Render("✓ Copied to clipboard"))
}

// getTerminalWidth returns the terminal width or a default value
func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	return width
}

// isTerminal reports whether stream is a terminal
func isTerminal(stream any) bool {
	f, ok := stream.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// formatErrorMessage formats err with context and a hint for known failures.
// The credential hint is omitted because the notice already says it.
func formatErrorMessage(err error, context string) string {
	if err == nil || errors.Is(err, apierrors.ErrCredentialMissing) {
		return ""
	}
	return tui.FormatError(fmt.Errorf("%s: %w", context, err))
}
