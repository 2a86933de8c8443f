package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/diogo/boltchat/internal/models"
	"github.com/diogo/boltchat/internal/session"
)

// ExportFormat represents the format for exporting conversations
type ExportFormat string

const (
	ExportFormatMarkdown ExportFormat = "markdown"
	ExportFormatJSON     ExportFormat = "json"
)

// ParseExportFormat maps a user-supplied name (or file extension) to a format
func ParseExportFormat(name string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "", "md", "markdown":
		return ExportFormatMarkdown, nil
	case "json":
		return ExportFormatJSON, nil
	default:
		return "", fmt.Errorf("unknown export format %q (use markdown or json)", name)
	}
}

// Export renders conv in the given format
func Export(conv *session.Session, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatJSON:
		return ExportToJSON(conv)
	case ExportFormatMarkdown, "":
		return []byte(ExportToMarkdown(conv)), nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}

// ExportToMarkdown exports a conversation to Markdown format
func ExportToMarkdown(conv *session.Session) string {
	var sb strings.Builder

	sb.WriteString("# ")
	sb.WriteString(conv.Title)
	sb.WriteString("\n\n")

	sb.WriteString("**Created:** ")
	sb.WriteString(conv.CreatedAt.Format("2006-01-02 15:04:05"))
	sb.WriteString("\n")
	sb.WriteString("**Updated:** ")
	sb.WriteString(conv.UpdatedAt.Format("2006-01-02 15:04:05"))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("**Messages:** %d\n", len(conv.Messages)))
	if tag := session.DetectTag(conv.Messages); tag != "" {
		sb.WriteString("**Topic:** ")
		sb.WriteString(tag)
		sb.WriteString("\n")
	}
	sb.WriteString("\n---\n\n")

	for i, msg := range conv.Messages {
		role := "User"
		if msg.Sender == session.SenderAssistant {
			role = models.AssistantName
		}

		sb.WriteString("## ")
		sb.WriteString(role)
		if !msg.CreatedAt.IsZero() {
			sb.WriteString(" (")
			sb.WriteString(msg.CreatedAt.Format("15:04:05"))
			sb.WriteString(")")
		}
		sb.WriteString("\n\n")

		sb.WriteString(msg.Text)
		sb.WriteString("\n")

		if i < len(conv.Messages)-1 {
			sb.WriteString("\n---\n\n")
		}
	}

	return sb.String()
}

// ExportToJSON exports a conversation to JSON format
func ExportToJSON(conv *session.Session) ([]byte, error) {
	type exportMessage struct {
		Role      string    `json:"role"`
		Content   string    `json:"content"`
		Timestamp time.Time `json:"timestamp"`
	}

	type exportConversation struct {
		ID        string          `json:"id"`
		Title     string          `json:"title"`
		Tag       string          `json:"tag,omitempty"`
		CreatedAt time.Time       `json:"created_at"`
		UpdatedAt time.Time       `json:"updated_at"`
		Messages  []exportMessage `json:"messages"`
	}

	export := exportConversation{
		ID:        conv.ID,
		Title:     conv.Title,
		Tag:       session.DetectTag(conv.Messages),
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Messages:  make([]exportMessage, len(conv.Messages)),
	}

	for i, msg := range conv.Messages {
		export.Messages[i] = exportMessage{
			Role:      string(msg.Sender),
			Content:   msg.Text,
			Timestamp: msg.CreatedAt,
		}
	}

	return json.MarshalIndent(export, "", "  ")
}

// SearchResult represents a search match in conversations
type SearchResult struct {
	Conversation *session.Session
	MatchSnippet string // Snippet where the term was found
	MatchField   string // "title" or "content"
	MatchIndex   int    // Message index if MatchField is "content", -1 for title
}

// Search looks for query in conversation titles and optionally message text
func Search(ctx context.Context, store session.Store, query string, searchContent bool) ([]*SearchResult, error) {
	conversations, err := store.List(ctx)
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(query)
	var results []*SearchResult

	for _, conv := range conversations {
		if strings.Contains(strings.ToLower(conv.Title), queryLower) {
			results = append(results, &SearchResult{
				Conversation: conv,
				MatchSnippet: conv.Title,
				MatchField:   "title",
				MatchIndex:   -1,
			})
			continue
		}

		if !searchContent {
			continue
		}
		for i, msg := range conv.Messages {
			if strings.Contains(strings.ToLower(msg.Text), queryLower) {
				results = append(results, &SearchResult{
					Conversation: conv,
					MatchSnippet: extractSnippet(msg.Text, query, 100),
					MatchField:   "content",
					MatchIndex:   i,
				})
				break // one match per conversation
			}
		}
	}

	return results, nil
}

// extractSnippet extracts a snippet of about maxLen runes around the first
// occurrence of query
func extractSnippet(content, query string, maxLen int) string {
	runes := []rune(content)
	lower := []rune(strings.ToLower(content))
	queryRunes := []rune(strings.ToLower(query))

	idx := indexRunes(lower, queryRunes)
	if idx == -1 || len(lower) != len(runes) {
		idx = 0
	}

	half := maxLen / 2
	start := idx - half
	end := idx + len(queryRunes) + half

	if start < 0 {
		start = 0
		end = maxLen
	}
	if end > len(runes) {
		end = len(runes)
		start = end - maxLen
		if start < 0 {
			start = 0
		}
	}

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet = snippet + "..."
	}

	return snippet
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 {
		return 0
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
