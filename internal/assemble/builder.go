// Package assemble builds token-budgeted prompt context from scraped
// sources and sizes the inference context window against the model
// limit.
package assemble

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"webscout/internal/logging"
	"webscout/internal/scrape"
)

// Budget controls how much source text is packed into the prompt.
type Budget struct {
	MaxRAGTokens      int // overall ceiling for assembled context
	MaxWordsPerSource int // bodies beyond this are truncated
	CharsPerToken     int // token estimation divisor
	ReserveTokens     int // held back for headers, task block, answer framing
}

// DefaultBudget returns the standard assembly budget.
func DefaultBudget() Budget {
	return Budget{
		MaxRAGTokens:      20000,
		MaxWordsPerSource: 2000,
		CharsPerToken:     4,
		ReserveTokens:     1000,
	}
}

// longFormWords marks where a source stops reading like a news article
// and starts reading like reference material.
const longFormWords = 5000

// referenceDomains are treated as long-form regardless of length.
var referenceDomains = []string{
	"wikipedia.org",
	"britannica.com",
	"stanford.edu",
}

// Builder assembles prompt context.
type Builder struct {
	budget Budget
}

// NewBuilder creates a builder. Zero-valued budgets fall back to
// defaults.
func NewBuilder(budget Budget) *Builder {
	if budget.MaxRAGTokens == 0 {
		budget = DefaultBudget()
	}
	if budget.CharsPerToken == 0 {
		budget.CharsPerToken = 4
	}
	return &Builder{budget: budget}
}

// Build produces the context string for synthesis. Sources are ordered
// so short current material comes before long-form reference material,
// shorter first within each tier, and packing stops once the token
// estimate would cross the budget. Prior research summaries, when
// present, lead the context as their own labeled section.
func (b *Builder) Build(userText string, sources []scrape.Source, priorSummaries []string) string {
	ordered := orderSources(sources)
	maxTokens := b.budget.MaxRAGTokens - b.budget.ReserveTokens

	var sb strings.Builder

	if len(priorSummaries) > 0 {
		sb.WriteString("=== Previous research in this session ===\n")
		for _, summary := range priorSummaries {
			sb.WriteString(summary)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("=== Web sources ===\n")

	used := 0
	dropped := 0
	for i, src := range ordered {
		body := truncateWords(src.Content, b.budget.MaxWordsPerSource)
		block := fmt.Sprintf("[%d] %s\nURL: %s\n%s\n\n", used+1, src.Title, src.URL, body)

		estimate := (sb.Len() + len(block)) / b.budget.CharsPerToken
		if estimate > maxTokens {
			dropped = len(ordered) - i
			break
		}
		sb.WriteString(block)
		used++
	}

	if dropped > 0 {
		logging.ContextDebug("Context budget reached: kept %d sources, dropped %d", used, dropped)
	}

	sb.WriteString("=== Task ===\n")
	sb.WriteString("Using the sources above, answer the question. Cite sources inline as [n].\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(userText)

	logging.Context("Assembled context: %d sources, ~%d tokens", used, sb.Len()/b.budget.CharsPerToken)
	return sb.String()
}

// orderSources sorts news-like material before reference material, and
// shorter sources first within each tier. Sources without readable
// words are dropped.
func orderSources(sources []scrape.Source) []scrape.Source {
	out := make([]scrape.Source, 0, len(sources))
	for _, src := range sources {
		if src.WordCount > 0 {
			out = append(out, src)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return sortKey(out[i]) < sortKey(out[j])
	})
	return out
}

// sortKey ranks a source: reference material lands after everything
// news-like, and shorter sources rank earlier within each tier.
func sortKey(src scrape.Source) int {
	key := src.WordCount
	if isReference(src) {
		key += 1_000_000
	}
	return key
}

func isReference(src scrape.Source) bool {
	if src.WordCount >= longFormWords {
		return true
	}
	parsed, err := url.Parse(src.URL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domain := range referenceDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func truncateWords(text string, maxWords int) string {
	if maxWords <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ")
}
