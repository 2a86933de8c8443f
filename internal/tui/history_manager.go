package tui

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/diogo/boltchat/internal/session"
)

// HistoryDirectory is the part of session.Directory the manager needs
type HistoryDirectory interface {
	List() []session.Summary
	Refresh(ctx context.Context) error
	Delete(ctx context.Context, id string) error
}

var _ HistoryDirectory = (*session.Directory)(nil)

// HistoryManagerMode represents the current mode of the manager
type HistoryManagerMode int

const (
	ModeNormal HistoryManagerMode = iota
	ModeSearch
	ModeConfirmDelete
)

// historyLoadedMsg is sent when the directory has been refreshed
type historyLoadedMsg struct {
	err error
}

// historyDeletedMsg is sent when a delete finished
type historyDeletedMsg struct {
	title string
	err   error
}

// HistoryManagerModel lists stored conversations and lets the user resume or
// delete them
type HistoryManagerModel struct {
	ctx context.Context
	dir HistoryDirectory
	now func() time.Time

	summaries []session.Summary
	filtered  []session.Summary

	cursor int

	loading bool
	err     error
	mode    HistoryManagerMode

	searchInput textinput.Model
	searchQuery string

	deleteID    string
	deleteTitle string

	selectedID string
	feedback   string

	width  int
	height int
	ready  bool
}

// NewHistoryManagerModel creates a manager over dir
func NewHistoryManagerModel(ctx context.Context, dir HistoryDirectory) HistoryManagerModel {
	searchInput := textinput.New()
	searchInput.Placeholder = "Search..."
	searchInput.CharLimit = 50

	return HistoryManagerModel{
		ctx:         ctx,
		dir:         dir,
		now:         time.Now,
		loading:     true,
		mode:        ModeNormal,
		searchInput: searchInput,
	}
}

// Init refreshes the directory
func (m HistoryManagerModel) Init() tea.Cmd {
	return m.refresh()
}

func (m HistoryManagerModel) refresh() tea.Cmd {
	dir, ctx := m.dir, m.ctx
	return func() tea.Msg {
		return historyLoadedMsg{err: dir.Refresh(ctx)}
	}
}

func (m HistoryManagerModel) deleteSelected() tea.Cmd {
	dir, ctx := m.dir, m.ctx
	id, title := m.deleteID, m.deleteTitle
	return func() tea.Msg {
		return historyDeletedMsg{title: title, err: dir.Delete(ctx, id)}
	}
}

// Update handles messages and updates the model
func (m HistoryManagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true

	case historyLoadedMsg:
		m.loading = false
		m.err = msg.err
		m.summaries = m.dir.List()
		m.applyFilter()

	case historyDeletedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.feedback = fmt.Sprintf("✓ Deleted '%s'", truncateTitle(msg.title, 30))
		m.summaries = m.dir.List()
		m.applyFilter()

	case tea.KeyMsg:
		switch m.mode {
		case ModeSearch:
			return m.updateSearchMode(msg)
		case ModeConfirmDelete:
			return m.updateConfirmDeleteMode(msg)
		default:
			return m.updateNormalMode(msg)
		}
	}

	return m, nil
}

func (m HistoryManagerModel) updateNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.feedback = ""

	switch msg.String() {
	case "ctrl+c", "q", "esc":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.filtered)-1 {
			m.cursor++
		}

	case "g", "home":
		m.cursor = 0

	case "G", "end":
		if len(m.filtered) > 0 {
			m.cursor = len(m.filtered) - 1
		}

	case "enter":
		if sum, ok := m.current(); ok {
			m.selectedID = sum.ID
			return m, tea.Quit
		}

	case "d", "delete":
		if sum, ok := m.current(); ok {
			m.deleteID = sum.ID
			m.deleteTitle = sum.Title
			m.mode = ModeConfirmDelete
		}

	case "r":
		m.loading = true
		return m, m.refresh()

	case "/":
		m.mode = ModeSearch
		m.searchInput.SetValue(m.searchQuery)
		m.searchInput.Focus()
		return m, textinput.Blink
	}

	return m, nil
}

func (m HistoryManagerModel) updateSearchMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = ModeNormal
		m.searchInput.Blur()
		m.searchQuery = ""
		m.applyFilter()
		return m, nil

	case "enter":
		m.searchQuery = strings.TrimSpace(m.searchInput.Value())
		m.mode = ModeNormal
		m.searchInput.Blur()
		m.cursor = 0
		m.applyFilter()
		return m, nil

	default:
		var cmd tea.Cmd
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}
}

func (m HistoryManagerModel) updateConfirmDeleteMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.mode = ModeNormal
		return m, m.deleteSelected()

	case "n", "N", "esc":
		m.mode = ModeNormal
		m.deleteID = ""
		m.deleteTitle = ""
	}
	return m, nil
}

// applyFilter narrows the list to titles and previews matching the search
func (m *HistoryManagerModel) applyFilter() {
	m.filtered = nil
	query := strings.ToLower(m.searchQuery)

	for _, sum := range m.summaries {
		if query != "" &&
			!strings.Contains(strings.ToLower(sum.Title), query) &&
			!strings.Contains(strings.ToLower(sum.LastMessageText), query) {
			continue
		}
		m.filtered = append(m.filtered, sum)
	}

	if m.cursor >= len(m.filtered) {
		m.cursor = max(0, len(m.filtered)-1)
	}
}

func (m HistoryManagerModel) current() (session.Summary, bool) {
	if m.cursor < 0 || m.cursor >= len(m.filtered) {
		return session.Summary{}, false
	}
	return m.filtered[m.cursor], true
}

// View renders the TUI
func (m HistoryManagerModel) View() string {
	if !m.ready {
		return loadingStyle.Render("  Initializing...")
	}
	if m.loading {
		return loadingStyle.Render("  Loading conversations...")
	}

	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	sections := []string{m.renderHeader(contentWidth), m.renderList(contentWidth)}

	switch m.mode {
	case ModeSearch:
		sections = append(sections, m.renderSearchInput(contentWidth))
	case ModeConfirmDelete:
		sections = append(sections, m.renderDeleteConfirm(contentWidth))
	}

	if m.err != nil {
		sections = append(sections, errorStyle.Render(fmt.Sprintf("  Error: %v", m.err)))
	}
	if m.feedback != "" {
		sections = append(sections, feedbackStyle.Render("  "+m.feedback))
	}

	sections = append(sections, m.renderStatusBar(contentWidth))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m HistoryManagerModel) renderHeader(width int) string {
	title := titleStyle.Render("⚡ Conversations")
	count := subtitleStyle.Render(fmt.Sprintf("  %d", len(m.summaries)))

	searchInfo := ""
	if m.searchQuery != "" {
		searchInfo = hintStyle.Render(fmt.Sprintf("  •  matching '%s' (%d)", m.searchQuery, len(m.filtered)))
	}

	return headerStyle.Width(width).Render(lipgloss.JoinHorizontal(lipgloss.Center, title, count, searchInfo))
}

func (m HistoryManagerModel) renderList(width int) string {
	var items []string

	switch {
	case len(m.filtered) == 0 && m.searchQuery != "":
		items = append(items, hintStyle.Render(fmt.Sprintf("  No conversations matching '%s'", m.searchQuery)))
	case len(m.filtered) == 0:
		items = append(items, hintStyle.Render("  No conversations yet"))
		items = append(items, hintStyle.Render("  Start one with 'boltchat chat'"))
	default:
		// each item takes two lines
		maxItems := max(3, (m.height-12)/2)

		scrollOffset := 0
		if m.cursor >= maxItems {
			scrollOffset = m.cursor - maxItems + 1
		}
		endIdx := min(scrollOffset+maxItems, len(m.filtered))

		if scrollOffset > 0 {
			items = append(items, hintStyle.Render("  ↑ more..."))
		}
		for i := scrollOffset; i < endIdx; i++ {
			items = append(items, m.renderItem(i, m.filtered[i], width-6))
		}
		if endIdx < len(m.filtered) {
			items = append(items, hintStyle.Render("  ↓ more..."))
		}
	}

	return messagesAreaStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left, items...))
}

func (m HistoryManagerModel) renderItem(index int, sum session.Summary, width int) string {
	cursor := "  "
	style := listTitleStyle
	if index == m.cursor {
		cursor = listCursorStyle.Render("▸ ")
		style = listSelectedStyle
	}

	indexStr := listMetaStyle.Render(fmt.Sprintf("%2d.", index+1))

	tag := ""
	if sum.TagLabel != "" {
		tag = " " + tagStyle.Render("["+sum.TagLabel+"]")
	}

	meta := listMetaStyle.Render(fmt.Sprintf(" (%d msgs, %s)",
		sum.MessageCount, session.FormatAge(sum.Timestamp, m.now())))

	line := fmt.Sprintf("%s%s %s%s%s", cursor, indexStr, style.Render(truncateTitle(sum.Title, 40)), tag, meta)

	previewWidth := max(10, width-8)
	preview := "      " + previewStyle.Render(truncateTitle(singleLine(sum.LastMessageText), previewWidth))
	return line + "\n" + preview
}

func (m HistoryManagerModel) renderSearchInput(width int) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		inputLabelStyle.Render("Search:"),
		m.searchInput.View(),
		hintStyle.Render("  Enter: Search  Esc: Cancel"),
	)
	return inputPanelStyle.Width(width).Render(content)
}

func (m HistoryManagerModel) renderDeleteConfirm(width int) string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		errorStyle.Render(fmt.Sprintf("Delete '%s'?", truncateTitle(m.deleteTitle, 30))),
		hintStyle.Render("  Y: Confirm  N/Esc: Cancel"),
	)
	return confirmStyle.Width(width).Render(content)
}

func (m HistoryManagerModel) renderStatusBar(width int) string {
	var shortcuts []struct {
		key  string
		desc string
	}

	switch m.mode {
	case ModeNormal:
		shortcuts = []struct {
			key  string
			desc string
		}{
			{"↑↓", "Navigate"},
			{"Enter", "Open"},
			{"d", "Delete"},
			{"/", "Search"},
			{"r", "Refresh"},
			{"q", "Quit"},
		}
	default:
		return ""
	}

	var items []string
	for _, s := range shortcuts {
		items = append(items, statusKeyStyle.Render(s.key)+statusDescStyle.Render(" "+s.desc))
	}
	return statusBarStyle.Width(width).Align(lipgloss.Center).Render(strings.Join(items, "  "))
}

// Selected returns the ID chosen with enter, or ""
func (m HistoryManagerModel) Selected() string {
	return m.selectedID
}

// HistoryManagerResult contains the result of running the history manager
type HistoryManagerResult struct {
	// SelectedID is the conversation to resume; empty if the user quit
	SelectedID string
}

// RunHistoryManager starts the history manager TUI and returns the result
func RunHistoryManager(ctx context.Context, dir HistoryDirectory) (HistoryManagerResult, error) {
	m := NewHistoryManagerModel(ctx, dir)

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	finalModel, err := p.Run()
	if err != nil {
		return HistoryManagerResult{}, err
	}

	if hm, ok := finalModel.(HistoryManagerModel); ok {
		return HistoryManagerResult{SelectedID: hm.Selected()}, nil
	}
	return HistoryManagerResult{}, nil
}

// truncateTitle shortens title to maxLen runes
func truncateTitle(title string, maxLen int) string {
	if utf8.RuneCountInString(title) <= maxLen {
		return title
	}
	return string([]rune(title)[:maxLen]) + "..."
}

func singleLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
