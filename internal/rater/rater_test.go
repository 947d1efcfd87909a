package rater

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"webscout/internal/llm"
	"webscout/internal/search"
)

type batchBackend struct {
	replies []string
	errs    []error
	call    int
}

func (b *batchBackend) Chat(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (*llm.Response, error) {
	i := b.call
	b.call++
	if i < len(b.errs) && b.errs[i] != nil {
		return nil, b.errs[i]
	}
	reply := ""
	if i < len(b.replies) {
		reply = b.replies[i]
	}
	return &llm.Response{Text: reply, TokensPerSecond: 40}, nil
}

func (b *batchBackend) ChatStream(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func (b *batchBackend) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (b *batchBackend) ContextLimit(ctx context.Context, model string) (int, error) {
	return 8192, nil
}
func (b *batchBackend) Preload(ctx context.Context, model string) error { return nil }
func (b *batchBackend) AlwaysResident() bool                            { return false }
func (b *batchBackend) HealthCheck(ctx context.Context) error           { return nil }
func (b *batchBackend) Name() string                                    { return "batch" }

func candidates(n int) []search.Result {
	out := make([]search.Result, n)
	for i := range out {
		out[i] = search.Result{
			Title: fmt.Sprintf("Result %d", i+1),
			URL:   fmt.Sprintf("https://example.com/%d", i+1),
		}
	}
	return out
}

func TestRate_SortsDescending(t *testing.T) {
	backend := &batchBackend{replies: []string{
		"1. Score: 3 - Reasoning: marginal\n2. Score: 9 - Reasoning: on point\n3. Score: 6 - Reasoning: decent",
	}}
	r := NewRater(backend, "m")

	ratings, stats := r.Rate(context.Background(), "query", candidates(3))
	if len(ratings) != 3 {
		t.Fatalf("expected 3 ratings, got %d", len(ratings))
	}
	if ratings[0].Score != 9 || ratings[1].Score != 6 || ratings[2].Score != 3 {
		t.Errorf("not sorted descending: %+v", ratings)
	}
	if ratings[0].URL != "https://example.com/2" {
		t.Errorf("score mapped to wrong URL: %+v", ratings[0])
	}
	if ratings[0].Reasoning != "on point" {
		t.Errorf("reasoning lost: %q", ratings[0].Reasoning)
	}
	if stats.AvgTokensPerSec != 40 {
		t.Errorf("unexpected throughput: %+v", stats)
	}
}

func TestRate_UnparseableLineGetsNeutral(t *testing.T) {
	backend := &batchBackend{replies: []string{
		"1. Score: 8 - Reasoning: good\ngarbage line the model emitted",
	}}
	r := NewRater(backend, "m")

	ratings, _ := r.Rate(context.Background(), "query", candidates(2))
	if ratings[0].Score != 8 {
		t.Errorf("parsed line lost: %+v", ratings[0])
	}
	if ratings[1].Score != neutralScore {
		t.Errorf("unparsed URL should get neutral score, got %d", ratings[1].Score)
	}
}

func TestRate_BatchErrorFallsBackToNeutral(t *testing.T) {
	backend := &batchBackend{errs: []error{errors.New("model down")}}
	r := NewRater(backend, "m")

	ratings, stats := r.Rate(context.Background(), "query", candidates(4))
	if len(ratings) != 4 {
		t.Fatalf("expected 4 ratings, got %d", len(ratings))
	}
	for _, rt := range ratings {
		if rt.Score != neutralScore {
			t.Errorf("expected neutral scores on batch failure: %+v", rt)
		}
	}
	if stats.Batches != 0 {
		t.Errorf("failed batches must not count toward throughput: %+v", stats)
	}
}

func TestRate_TwoBatchesMergeIntoOneSortedList(t *testing.T) {
	first := ""
	for i := 1; i <= 10; i++ {
		first += fmt.Sprintf("%d. Score: %d - Reasoning: r\n", i, i%10)
	}
	second := "1. Score: 10 - Reasoning: best\n2. Score: 0 - Reasoning: worst"

	backend := &batchBackend{replies: []string{first, second}}
	r := NewRater(backend, "m")

	ratings, stats := r.Rate(context.Background(), "query", candidates(12))
	if len(ratings) != 12 {
		t.Fatalf("expected 12 ratings, got %d", len(ratings))
	}
	if stats.Batches != 2 {
		t.Errorf("expected 2 batches, got %d", stats.Batches)
	}
	if ratings[0].Score != 10 || ratings[0].URL != "https://example.com/11" {
		t.Errorf("cross-batch sort broken, top is %+v", ratings[0])
	}
	for i := 1; i < len(ratings); i++ {
		if ratings[i].Score > ratings[i-1].Score {
			t.Fatalf("not sorted at %d: %+v", i, ratings)
		}
	}
}

func TestRate_ClampsOutOfRangeScores(t *testing.T) {
	backend := &batchBackend{replies: []string{
		"1. Score: 99 - Reasoning: overenthusiastic",
	}}
	r := NewRater(backend, "m")

	ratings, _ := r.Rate(context.Background(), "query", candidates(1))
	if ratings[0].Score != 10 {
		t.Errorf("expected clamp to 10, got %d", ratings[0].Score)
	}
}

func TestRate_Empty(t *testing.T) {
	r := NewRater(&batchBackend{}, "m")
	ratings, stats := r.Rate(context.Background(), "query", nil)
	if len(ratings) != 0 || stats.Batches != 0 {
		t.Errorf("expected empty result, got %v %v", ratings, stats)
	}
}
