// Package render provides markdown rendering for assistant replies in the terminal.
package render

import (
	"os"
	"strings"

	"github.com/diogo/boltchat/internal/config"
)

// Options configures the markdown renderer behavior.
type Options struct {
	// Width is the wrap width; values below MinWidth are raised to it
	Width int

	// Style is a glamour standard style ("dark", "light", "notty", "dracula",
	// "tokyo-night", ...), "auto" to detect the terminal background, or a
	// path to a JSON style file
	Style string

	EnableEmoji      bool
	PreserveNewLines bool
	TableWrap        bool
	InlineTableLinks bool
}

// MinWidth is the narrowest wrap width used
const MinWidth = 20

// DefaultOptions returns the default configuration.
func DefaultOptions() Options {
	return FromConfig(config.DefaultMarkdownConfig(), 80)
}

// FromConfig builds options from the markdown section of the user
// configuration. GLAMOUR_STYLE in the environment overrides the style.
func FromConfig(md config.MarkdownConfig, width int) Options {
	opts := Options{
		Width:            width,
		Style:            md.Style,
		EnableEmoji:      md.EnableEmoji,
		PreserveNewLines: md.PreserveNewLines,
		TableWrap:        md.TableWrap,
		InlineTableLinks: md.InlineTableLinks,
	}
	if opts.Style == "" {
		opts.Style = "dark"
	}
	if style := os.Getenv("GLAMOUR_STYLE"); style != "" {
		opts.Style = style
	}
	return opts
}

// WithWidth returns Options with the specified width.
func (o Options) WithWidth(width int) Options {
	o.Width = width
	return o
}

// WithStyle returns Options with the specified style.
func (o Options) WithStyle(style string) Options {
	o.Style = style
	return o
}

// Markdown renders markdown content for terminal display.
func Markdown(content string, opts Options) (string, error) {
	if opts.Width < MinWidth {
		opts.Width = MinWidth
	}

	renderer, err := globalPool.get(opts)
	if err != nil {
		return "", err
	}
	defer globalPool.put(opts, renderer)

	return renderer.Render(content)
}

// MarkdownOrPlain renders content, falling back to the raw text when the
// renderer cannot be built or fails. Surrounding blank lines are trimmed.
func MarkdownOrPlain(content string, opts Options) string {
	out, err := Markdown(content, opts)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}
