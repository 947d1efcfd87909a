// Package queryopt rewrites user questions into compact, temporally
// aware search queries, using recent history to resolve follow-ups.
package queryopt

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"webscout/internal/history"
	"webscout/internal/llm"
	"webscout/internal/logging"
)

// historyWindow bounds how many recent turns feed the rewrite prompt.
const historyWindow = 3

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// temporalKeywords mark queries asking about current or comparative
// state, where search results benefit from an explicit year.
var temporalKeywords = []string{
	"latest", "newest", "current", "recent", "today", "now",
	"best", "top", "vs", "versus", "compare", "comparison",
}

var yearPattern = regexp.MustCompile(`\b20\d{2}\b`)

const optimizePrompt = `Rewrite the user's question as a short web search query. Resolve pronouns and references using the conversation. Reply with only the query.

%HISTORY%User question: %QUERY%`

// Optimizer rewrites questions via a small model.
type Optimizer struct {
	backend llm.Backend
	model   string
	now     func() time.Time
}

// NewOptimizer creates an optimizer using the given utility model.
func NewOptimizer(backend llm.Backend, model string) *Optimizer {
	return &Optimizer{backend: backend, model: model, now: time.Now}
}

// Optimize returns a cleaned search query. On any model failure, it
// falls back to the original user text so research can proceed.
func (o *Optimizer) Optimize(ctx context.Context, userText string, turns []history.Turn) string {
	prompt := strings.Replace(optimizePrompt, "%HISTORY%", renderHistory(turns), 1)
	prompt = strings.Replace(prompt, "%QUERY%", userText, 1)

	resp, err := o.backend.Chat(ctx, o.model, []llm.Message{
		{Role: "user", Content: prompt},
	}, llm.Options{Temperature: 0.3, NumPredict: 100})
	if err != nil {
		logging.SearchDebug("Query optimization failed, using original text: %v", err)
		return o.Finalize(userText)
	}

	query := Clean(resp.Text)
	if query == "" {
		return o.Finalize(userText)
	}

	optimized := o.Finalize(query)
	if optimized != userText {
		logging.SearchDebug("Optimized query: %q -> %q", userText, optimized)
	}
	return optimized
}

// Clean strips reasoning markup, quotes, and stray whitespace from
// model output.
func Clean(text string) string {
	text = thinkBlock.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, `"`, "")
	text = strings.ReplaceAll(text, "'", "")
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.Join(strings.Fields(text), " ")
}

// Finalize applies the deterministic post-processing: queries with
// temporal or comparison language get the current year appended unless
// a year is already present. Idempotent.
func (o *Optimizer) Finalize(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if !hasTemporalKeyword(query) || yearPattern.MatchString(query) {
		return query
	}
	return fmt.Sprintf("%s %d", query, o.now().Year())
}

func hasTemporalKeyword(query string) bool {
	lower := strings.ToLower(query)
	words := strings.Fields(lower)
	for _, keyword := range temporalKeywords {
		for _, w := range words {
			if strings.Trim(w, ".,!?") == keyword {
				return true
			}
		}
	}
	return false
}

func renderHistory(turns []history.Turn) string {
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}
	var sb strings.Builder
	for _, t := range turns {
		if t.Summary {
			continue
		}
		if t.User != "" {
			sb.WriteString("User: ")
			sb.WriteString(t.User)
			sb.WriteString("\n")
		}
		if t.Assistant != "" {
			assistant := t.Assistant
			if len(assistant) > 300 {
				assistant = assistant[:300]
			}
			sb.WriteString("Assistant: ")
			sb.WriteString(assistant)
			sb.WriteString("\n")
		}
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	return sb.String()
}
