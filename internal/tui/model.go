package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/diogo/boltchat/internal/conversation"
	"github.com/diogo/boltchat/internal/models"
	"github.com/diogo/boltchat/internal/render"
	"github.com/diogo/boltchat/internal/session"
)

// eventBuffer is how many engine events may queue before the UI drains them
const eventBuffer = 64

// Chat commands typed into the input
const (
	cmdNew     = "/new"
	cmdCopy    = "/copy"
	cmdHistory = "/history"
)

// engineEventMsg forwards an engine event into the update loop
type engineEventMsg conversation.Event

// sendResultMsg carries the outcome of a completed send
type sendResultMsg conversation.Result

// animationTickMsg advances the thinking animation
type animationTickMsg struct{}

// ChatOptions configures the chat screen
type ChatOptions struct {
	ModelName string
	Markdown  render.Options
}

// ChatResult reports why the chat screen closed
type ChatResult struct {
	// OpenHistory is set when the user asked for the history browser
	OpenHistory bool
}

// Model is the chat screen over a conversation engine
type Model struct {
	ctx         context.Context
	engine      *conversation.Engine
	opts        ChatOptions
	events      chan conversation.Event
	done        chan struct{}
	closeOnce   *sync.Once
	unsubscribe func()
	copyText    func(string) error

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	sending        bool
	notice         string
	feedback       string
	err            error
	result         ChatResult
	ready          bool
	width          int
	height         int
	animationFrame int
}

// NewChatModel creates a chat screen bound to engine. Call Close when done
// to stop receiving engine events.
func NewChatModel(ctx context.Context, engine *conversation.Engine, opts ChatOptions) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask " + models.AssistantName + " anything..."
	ta.Focus()
	ta.CharLimit = models.MaxMessageLength
	ta.SetWidth(80)
	ta.SetHeight(2)
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Base = lipgloss.NewStyle().Foreground(colorText)
	ta.BlurredStyle.Base = lipgloss.NewStyle().Foreground(colorTextDim)
	ta.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(colorTextMute)

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = loadingStyle

	// The engine delivers events on the sending goroutine, so they are
	// buffered and drained by waitForEvent. A full buffer drops the event;
	// the send result refreshes the view regardless.
	events := make(chan conversation.Event, eventBuffer)
	unsubscribe := engine.Subscribe(func(ev conversation.Event) {
		select {
		case events <- ev:
		default:
		}
	})

	return Model{
		ctx:         ctx,
		engine:      engine,
		opts:        opts,
		events:      events,
		done:        make(chan struct{}),
		closeOnce:   new(sync.Once),
		unsubscribe: unsubscribe,
		copyText:    clipboard.WriteAll,
		textarea:    ta,
		spinner:     sp,
		sending:     engine.State() == conversation.StateSending,
	}
}

// Close detaches the model from the engine and releases any pending
// event wait. It is safe to call more than once.
func (m Model) Close() {
	if m.closeOnce == nil {
		return
	}
	m.closeOnce.Do(func() {
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		close(m.done)
	})
}

// Result reports how the screen was closed
func (m Model) Result() ChatResult {
	return m.result
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		waitForEvent(m.events, m.done),
	)
}

// waitForEvent returns the next engine event, or nil once done is closed
func waitForEvent(events <-chan conversation.Event, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			return engineEventMsg(ev)
		case <-done:
			return nil
		}
	}
}

func animationTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(time.Time) tea.Msg {
		return animationTickMsg{}
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmds  []tea.Cmd
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyEnter:
			return m.submit()

		case tea.KeyUp, tea.KeyDown, tea.KeyPgUp, tea.KeyPgDown:
			m.viewport, vpCmd = m.viewport.Update(msg)
			return m, vpCmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 4
		inputHeight := 6
		statusHeight := 1
		padding := 2

		contentWidth := msg.Width - 4
		viewportHeight := msg.Height - headerHeight - inputHeight - statusHeight - padding
		if viewportHeight < 5 {
			viewportHeight = 5
		}

		if !m.ready {
			m.viewport = viewport.New(contentWidth, viewportHeight)
			m.ready = true
		} else {
			m.viewport.Width = contentWidth
			m.viewport.Height = viewportHeight
		}
		m.textarea.SetWidth(contentWidth - 4)
		m.updateViewport()

	case engineEventMsg:
		switch msg.Kind {
		case conversation.EventStateChanged:
			m.sending = msg.State == conversation.StateSending
		case conversation.EventNotice:
			m.notice = msg.Notice
		case conversation.EventSessionReplaced:
			m.notice = ""
			m.err = nil
		}
		m.updateViewport()
		cmds = append(cmds, waitForEvent(m.events, m.done))

	case sendResultMsg:
		m.sending = false
		switch msg.Outcome {
		case conversation.OutcomeDropped:
			m.feedback = "Still waiting for the previous reply"
		case conversation.OutcomeFailed, conversation.OutcomeCredentialMissing:
			m.notice = msg.Notice
			m.err = msg.Err
		default:
			m.notice = ""
			m.err = nil
		}
		m.updateViewport()

	case animationTickMsg:
		if m.sending {
			m.animationFrame++
			cmds = append(cmds, animationTick())
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if !m.sending {
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}

	return m, tea.Batch(cmds...)
}

// submit handles the enter key: chat commands or a new message
func (m Model) submit() (tea.Model, tea.Cmd) {
	input := strings.TrimSpace(m.textarea.Value())
	if input == "" {
		return m, nil
	}

	m.feedback = ""

	switch strings.ToLower(input) {
	case "exit", "quit", "/exit", "/quit":
		return m, tea.Quit

	case cmdHistory:
		m.result.OpenHistory = true
		return m, tea.Quit

	case cmdNew:
		m.textarea.Reset()
		if err := m.engine.NewSession(); err != nil {
			m.err = err
			return m, nil
		}
		m.feedback = "Started a new conversation"
		m.updateViewport()
		return m, nil

	case cmdCopy:
		m.textarea.Reset()
		m.copyLastReply()
		return m, nil
	}

	if m.sending {
		m.feedback = "Still waiting for the previous reply"
		return m, nil
	}

	m.textarea.Reset()
	m.sending = true
	m.notice = ""
	m.err = nil
	m.animationFrame = 0

	return m, tea.Batch(m.sendMessage(input), animationTick())
}

func (m *Model) copyLastReply() {
	msgs := m.engine.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender != session.SenderAssistant {
			continue
		}
		if err := m.copyText(msgs[i].Text); err != nil {
			m.err = fmt.Errorf("failed to copy to clipboard: %w", err)
			return
		}
		m.feedback = "Copied the last reply to the clipboard"
		return
	}
	m.feedback = "Nothing to copy yet"
}

// sendMessage runs one engine cycle off the update loop
func (m Model) sendMessage(text string) tea.Cmd {
	engine := m.engine
	ctx := m.ctx
	return func() tea.Msg {
		return sendResultMsg(engine.Send(ctx, text))
	}
}

// View renders the screen
func (m Model) View() string {
	if !m.ready {
		return loadingStyle.Render("  Initializing...")
	}

	var sections []string
	contentWidth := m.width - 4

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("⚡ "+models.AssistantName),
		hintStyle.Render("  •  "),
		subtitleStyle.Render(m.opts.ModelName),
		hintStyle.Render("  •  "),
		hintStyle.Render(truncateTitle(m.engine.Session().Title, 40)),
	)
	sections = append(sections, headerStyle.Width(contentWidth).Render(header))

	sections = append(sections, messagesAreaStyle.
		Width(contentWidth).
		Height(m.viewport.Height).
		Render(m.viewport.View()))

	var inputContent string
	if m.sending {
		inputContent = m.renderLoadingAnimation()
	} else {
		inputContent = lipgloss.JoinVertical(lipgloss.Left,
			inputLabelStyle.Render("You"),
			m.textarea.View(),
		)
	}
	sections = append(sections, inputPanelStyle.Width(contentWidth).Render(inputContent))

	sections = append(sections, m.renderStatusBar(contentWidth))

	if m.err != nil {
		sections = append(sections, FormatError(m.err))
	} else if m.notice != "" {
		sections = append(sections, noticeStyle.Render(m.notice))
	}
	if m.feedback != "" {
		sections = append(sections, feedbackStyle.Render(m.feedback))
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderLoadingAnimation() string {
	frame := m.animationFrame
	barChars := []string{"█", "█", "█", "█", "▓", "▒", "░"}

	barWidth := 20
	var bar strings.Builder
	for i := 0; i < barWidth; i++ {
		colorIdx := (i + frame) % len(gradientColors)
		charIdx := (i + frame/2) % len(barChars)
		bar.WriteString(lipgloss.NewStyle().Foreground(gradientColors[colorIdx]).Render(barChars[charIdx]))
	}

	text := lipgloss.NewStyle().Foreground(colorText).Render(" " + models.AssistantName + " is thinking ")
	return fmt.Sprintf("%s %s %s", m.spinner.View(), bar.String(), text)
}

func (m Model) renderStatusBar(width int) string {
	shortcuts := []struct {
		key  string
		desc string
	}{
		{"Enter", "Send"},
		{cmdNew, "New"},
		{cmdCopy, "Copy"},
		{cmdHistory, "History"},
		{"Esc", "Quit"},
		{"↑↓", "Scroll"},
	}

	var items []string
	for _, s := range shortcuts {
		items = append(items, lipgloss.JoinHorizontal(lipgloss.Center,
			statusKeyStyle.Render(s.key),
			statusDescStyle.Render(" "+s.desc),
		))
	}

	bar := strings.Join(items, "  │  ")
	return statusBarStyle.Width(width).Align(lipgloss.Center).Render(bar)
}

// updateViewport re-renders the active session's messages
func (m *Model) updateViewport() {
	if !m.ready {
		return
	}

	bubbleWidth := m.viewport.Width - 8
	if bubbleWidth < render.MinWidth {
		bubbleWidth = render.MinWidth
	}
	mdOpts := m.opts.Markdown.WithWidth(bubbleWidth - 4)

	var sb strings.Builder
	for i, msg := range m.engine.Messages() {
		if i > 0 {
			sb.WriteString("\n")
		}
		stamp := timestampStyle.Render(" " + msg.CreatedAt.Format("15:04"))

		if msg.Sender == session.SenderUser {
			sb.WriteString(userLabelStyle.Render("You") + stamp + "\n")
			sb.WriteString(userBubbleStyle.Width(bubbleWidth).Render(msg.Text))
		} else {
			sb.WriteString(assistantLabelStyle.Render(models.AssistantName) + stamp + "\n")
			sb.WriteString(assistantBubbleStyle.Width(bubbleWidth).Render(render.MarkdownOrPlain(msg.Text, mdOpts)))
		}
		sb.WriteString("\n")
	}

	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

// RunChat starts the interactive chat screen and reports how it was closed
func RunChat(ctx context.Context, engine *conversation.Engine, opts ChatOptions) (ChatResult, error) {
	m := NewChatModel(ctx, engine, opts)
	defer m.Close()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return ChatResult{}, err
	}
	if fm, ok := final.(Model); ok {
		return fm.Result(), nil
	}
	return ChatResult{}, nil
}
