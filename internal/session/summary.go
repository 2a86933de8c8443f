package session

import (
	"fmt"
	"strings"
	"time"
)

// PreviewLimit is the longest lastMessageText preview, in runes
const PreviewLimit = 100

// Summary is a read-only projection of a Session for listings. It is always
// rebuilt from the Session and never edited on its own.
type Summary struct {
	ID              string
	Title           string
	LastMessageText string
	Timestamp       time.Time
	MessageCount    int
	TagLabel        string
}

// Summarize builds the listing summary of s
func Summarize(s *Session) Summary {
	sum := Summary{
		ID:           s.ID,
		Title:        s.Title,
		Timestamp:    s.UpdatedAt,
		MessageCount: len(s.Messages),
		TagLabel:     DetectTag(s.Messages),
	}
	if last, ok := s.Last(); ok {
		sum.LastMessageText = truncate(last.Text, PreviewLimit)
	}
	return sum
}

// tagKeywords maps a technology label to the lowercase keywords that count as
// a mention of it. Order breaks ties.
var tagKeywords = []struct {
	label    string
	keywords []string
}{
	{"React", []string{"react", "jsx", "usememo", "useeffect"}},
	{"Node.js", []string{"node.js", "nodejs", "express", "npm"}},
	{"SQL", []string{"sql", "postgres", "mysql", "sqlite", "schema"}},
	{"Python", []string{"python", "django", "flask", "pip "}},
	{"TypeScript", []string{"typescript", "tsconfig"}},
	{"Go", []string{"golang", "goroutine", "go.mod"}},
}

// DetectTag returns the technology mentioned most often across user and
// assistant messages, or "" when none is mentioned.
func DetectTag(messages []Message) string {
	counts := make([]int, len(tagKeywords))
	for _, msg := range messages {
		text := strings.ToLower(msg.Text)
		for i, tag := range tagKeywords {
			for _, kw := range tag.keywords {
				counts[i] += strings.Count(text, kw)
			}
		}
	}

	best, bestCount := "", 0
	for i, c := range counts {
		if c > bestCount {
			best, bestCount = tagKeywords[i].label, c
		}
	}
	return best
}

// FormatAge renders how long ago t was: "Just now", "3h ago", "2d ago".
func FormatAge(t, now time.Time) string {
	hours := int(now.Sub(t).Hours())
	switch {
	case hours < 1:
		return "Just now"
	case hours < 24:
		return fmt.Sprintf("%dh ago", hours)
	default:
		return fmt.Sprintf("%dd ago", hours/24)
	}
}
