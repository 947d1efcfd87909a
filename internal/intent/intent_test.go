package intent

import (
	"context"
	"errors"
	"testing"

	"webscout/internal/llm"
)

type replyBackend struct {
	reply string
	err   error
}

func (r *replyBackend) Chat(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (*llm.Response, error) {
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

func TestParse(t *testing.T) {
	cases := []struct {
		text string
		want Intent
	}{
		{"FACTUAL", Factual},
		{"factual", Factual},
		{"The query is CREATIVE.", Creative},
		{"mixed", Mixed},
		{"I think this is both CREATIVE and FACTUAL", Factual},
		{"no recognizable keyword", Factual},
		{"", Factual},
	}
	for _, tc := range cases {
		if got := Parse(tc.text); got != tc.want {
			t.Errorf("Parse(%q) = %s, want %s", tc.text, got, tc.want)
		}
	}
}

func TestClassify_FailureDefaultsToFactual(t *testing.T) {
	c := NewClassifier(&replyBackend{err: errors.New("down")}, "m")
	if got := c.Classify(context.Background(), "query"); got != Factual {
		t.Errorf("expected factual on failure, got %s", got)
	}
}

func TestClassify_UsesModelReply(t *testing.T) {
	c := NewClassifier(&replyBackend{reply: "CREATIVE"}, "m")
	if got := c.Classify(context.Background(), "write me a poem"); got != Creative {
		t.Errorf("expected creative, got %s", got)
	}
}

func TestTemperature(t *testing.T) {
	if Factual.Temperature() != 0.2 || Creative.Temperature() != 0.8 || Mixed.Temperature() != 0.5 {
		t.Error("unexpected temperature mapping")
	}
}
