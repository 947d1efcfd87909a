package queryopt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"webscout/internal/history"
	"webscout/internal/llm"
)

type replyBackend struct {
	reply  string
	err    error
	prompt string
}

func (r *replyBackend) Chat(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (*llm.Response, error) {
	if len(msgs) > 0 {
		r.prompt = msgs[len(msgs)-1].Content
	}
	if r.err != nil {
		return nil, r.err
	}
	return &llm.Response{Text: r.reply}, nil
}

func (r *replyBackend) ChatStream(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func (r *replyBackend) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (r *replyBackend) ContextLimit(ctx context.Context, model string) (int, error) {
	return 8192, nil
}
func (r *replyBackend) Preload(ctx context.Context, model string) error { return nil }
func (r *replyBackend) AlwaysResident() bool                            { return false }
func (r *replyBackend) HealthCheck(ctx context.Context) error           { return nil }
func (r *replyBackend) Name() string                                    { return "reply" }

func fixedYearOptimizer(backend llm.Backend) *Optimizer {
	o := NewOptimizer(backend, "m")
	o.now = func() time.Time { return time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC) }
	return o
}

func TestClean(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"<think>let me reason\nabout this</think>go generics", "go generics"},
		{`"quoted query"`, "quoted query"},
		{"multi\nline\nquery", "multi line query"},
		{"  spaced   out  ", "spaced out"},
	}
	for _, tc := range cases {
		if got := Clean(tc.in); got != tc.want {
			t.Errorf("Clean(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFinalize_AppendsYearForTemporalQueries(t *testing.T) {
	o := fixedYearOptimizer(&replyBackend{})
	if got := o.Finalize("best laptops"); got != "best laptops 2026" {
		t.Errorf("expected year appended, got %q", got)
	}
}

func TestFinalize_KeepsExistingYear(t *testing.T) {
	o := fixedYearOptimizer(&replyBackend{})
	if got := o.Finalize("best laptops 2031"); got != "best laptops 2031" {
		t.Errorf("existing year must be kept, got %q", got)
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	o := fixedYearOptimizer(&replyBackend{})
	once := o.Finalize("latest rust release")
	twice := o.Finalize(once)
	if once != twice {
		t.Errorf("finalize not idempotent: %q vs %q", once, twice)
	}
	if strings.Count(twice, "2026") != 1 {
		t.Errorf("year duplicated: %q", twice)
	}
}

func TestFinalize_NonTemporalUntouched(t *testing.T) {
	o := fixedYearOptimizer(&replyBackend{})
	if got := o.Finalize("how do goroutines work"); got != "how do goroutines work" {
		t.Errorf("non-temporal query must be untouched, got %q", got)
	}
}

func TestOptimize_FallsBackOnError(t *testing.T) {
	o := fixedYearOptimizer(&replyBackend{err: errors.New("down")})
	got := o.Optimize(context.Background(), "how do goroutines work", nil)
	if got != "how do goroutines work" {
		t.Errorf("expected original text on failure, got %q", got)
	}
}

func TestOptimize_CleansModelReply(t *testing.T) {
	backend := &replyBackend{reply: "<think>hmm</think>\"go 1.24 release notes\""}
	o := fixedYearOptimizer(backend)
	got := o.Optimize(context.Background(), "what's new in go?", nil)
	if got != "go 1.24 release notes" {
		t.Errorf("unexpected optimized query: %q", got)
	}
}

func TestOptimize_EmptyReplyFallsBack(t *testing.T) {
	backend := &replyBackend{reply: "<think>only reasoning</think>"}
	o := fixedYearOptimizer(backend)
	got := o.Optimize(context.Background(), "plain question", nil)
	if got != "plain question" {
		t.Errorf("expected fallback to original, got %q", got)
	}
}

func TestOptimize_HistoryInPrompt(t *testing.T) {
	backend := &replyBackend{reply: "rust borrow checker errors"}
	o := fixedYearOptimizer(backend)

	turns := []history.Turn{
		{User: "old turn beyond the window", Assistant: "old answer"},
		{User: "tell me about rust", Assistant: "Rust is a systems language."},
		{User: "what about its compiler?", Assistant: "rustc compiles it."},
		{User: "and the borrow checker?", Assistant: "It enforces ownership."},
	}
	o.Optimize(context.Background(), "why does it reject my code?", turns)

	if !strings.Contains(backend.prompt, "borrow checker") {
		t.Error("recent history missing from prompt")
	}
	if strings.Contains(backend.prompt, "old turn beyond the window") {
		t.Error("history window not bounded")
	}
}
