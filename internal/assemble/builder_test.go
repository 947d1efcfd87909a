package assemble

import (
	"strings"
	"testing"

	"webscout/internal/scrape"
)

func source(url, title string, words int) scrape.Source {
	return scrape.Source{
		URL:       url,
		Title:     title,
		Content:   strings.TrimSpace(strings.Repeat("word ", words)),
		WordCount: words,
	}
}

func TestBuild_OrdersNewsBeforeReference(t *testing.T) {
	b := NewBuilder(DefaultBudget())
	sources := []scrape.Source{
		source("https://en.wikipedia.org/wiki/Topic", "Topic wiki", 300),
		source("https://news.example/story", "Breaking story", 400),
		source("https://blog.example/post", "Quick post", 200),
	}

	out := b.Build("what happened?", sources, nil)

	posts := strings.Index(out, "Quick post")
	story := strings.Index(out, "Breaking story")
	wiki := strings.Index(out, "Topic wiki")
	if posts == -1 || story == -1 || wiki == -1 {
		t.Fatalf("missing sources in output")
	}
	if !(posts < story && story < wiki) {
		t.Errorf("expected order post < story < wiki, got %d/%d/%d", posts, story, wiki)
	}
}

func TestBuild_LongFormSortsAsReference(t *testing.T) {
	b := NewBuilder(DefaultBudget())
	sources := []scrape.Source{
		source("https://docs.example/handbook", "Giant handbook", 6000),
		source("https://news.example/story", "Short story", 500),
	}

	out := b.Build("q", sources, nil)
	if strings.Index(out, "Short story") > strings.Index(out, "Giant handbook") {
		t.Error("6000-word source should sort after the short story")
	}
}

func TestBuild_TruncatesLongBodies(t *testing.T) {
	budget := DefaultBudget()
	budget.MaxWordsPerSource = 50
	b := NewBuilder(budget)

	out := b.Build("q", []scrape.Source{source("https://a.example", "A", 500)}, nil)

	start := strings.Index(out, "URL: https://a.example\n")
	if start == -1 {
		t.Fatal("source block missing")
	}
	body := out[start:]
	if end := strings.Index(body, "\n\n"); end != -1 {
		body = body[:end]
	}
	if got := strings.Count(body, "word"); got > 50 {
		t.Errorf("body not truncated: %d words", got)
	}
}

func TestBuild_StopsAtBudget(t *testing.T) {
	budget := Budget{
		MaxRAGTokens:      400,
		MaxWordsPerSource: 2000,
		CharsPerToken:     4,
		ReserveTokens:     100,
	}
	b := NewBuilder(budget)

	sources := []scrape.Source{
		source("https://a.example", "First", 150),
		source("https://b.example", "Second", 160),
		source("https://c.example", "Third", 170),
	}
	out := b.Build("q", sources, nil)

	if !strings.Contains(out, "First") {
		t.Error("expected at least the first source kept")
	}
	if strings.Contains(out, "Third") {
		t.Error("expected the budget to drop the last source")
	}
	if got := len(out) / 4; got > budget.MaxRAGTokens {
		t.Errorf("assembled context estimate %d exceeds budget %d", got, budget.MaxRAGTokens)
	}
}

func TestBuild_PriorSummariesLead(t *testing.T) {
	b := NewBuilder(DefaultBudget())
	out := b.Build("q", []scrape.Source{source("https://a.example", "A", 100)},
		[]string{"Earlier we found the sky is blue."})

	summaryPos := strings.Index(out, "Previous research")
	sourcePos := strings.Index(out, "Web sources")
	if summaryPos == -1 || sourcePos == -1 || summaryPos > sourcePos {
		t.Errorf("prior summaries must lead the context (summary at %d, sources at %d)", summaryPos, sourcePos)
	}
	if !strings.Contains(out, "sky is blue") {
		t.Error("summary text missing")
	}
}

func TestBuild_SkipsEmptySources(t *testing.T) {
	b := NewBuilder(DefaultBudget())
	sources := []scrape.Source{
		{URL: "https://empty.example", Title: "Empty", WordCount: 0},
		source("https://a.example", "Real", 100),
	}
	out := b.Build("q", sources, nil)
	if strings.Contains(out, "empty.example") {
		t.Error("zero-word source must not appear in context")
	}
	if !strings.Contains(out, "[1] Real") {
		t.Error("surviving source should be numbered from 1")
	}
}

func TestBuild_QuestionAppears(t *testing.T) {
	b := NewBuilder(DefaultBudget())
	out := b.Build("why is the sky blue?", nil, nil)
	if !strings.Contains(out, "Question: why is the sky blue?") {
		t.Error("user question missing from task block")
	}
}
