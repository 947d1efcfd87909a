package research

import (
	"context"
	"errors"
	"strings"
	"testing"

	"webscout/internal/cache"
	"webscout/internal/llm"
)

// gateBackend scripts the classifier reply and records the prompt.
type gateBackend struct {
	reply  string
	err    error
	calls  int
	prompt string
}

func (g *gateBackend) Chat(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (*llm.Response, error) {
	g.calls++
	if len(msgs) > 0 {
		g.prompt = msgs[len(msgs)-1].Content
	}
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Response{Text: g.reply}, nil
}

func (g *gateBackend) ChatStream(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func (g *gateBackend) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (g *gateBackend) ContextLimit(ctx context.Context, model string) (int, error) {
	return 8192, nil
}
func (g *gateBackend) Preload(ctx context.Context, model string) error { return nil }
func (g *gateBackend) AlwaysResident() bool                            { return false }
func (g *gateBackend) HealthCheck(ctx context.Context) error           { return nil }
func (g *gateBackend) Name() string                                    { return "gate" }

var testTriggers = []string{"search the web", "look it up", "research this"}

func TestGate_TriggerPhraseBypassesModel(t *testing.T) {
	backend := &gateBackend{reply: "no"}
	g := NewGate(backend, "m", testTriggers)

	decision, err := g.Decide(context.Background(), "please Search The Web for rust news", nil)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decision != DecisionExplicitResearch {
		t.Errorf("expected explicit research, got %s", decision)
	}
	if backend.calls != 0 {
		t.Error("trigger match must not call the classifier")
	}
}

func TestGate_YesMeansNewResearch(t *testing.T) {
	g := NewGate(&gateBackend{reply: "Yes."}, "m", testTriggers)
	decision, err := g.Decide(context.Background(), "what happened today?", nil)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decision != DecisionNewResearch {
		t.Errorf("expected new research, got %s", decision)
	}
}

func TestGate_ContextBeatsYes(t *testing.T) {
	cached := &cache.Research{Query: "rust news", Answer: "things happened"}
	g := NewGate(&gateBackend{reply: "yes, though the context covers it"}, "m", testTriggers)

	decision, err := g.Decide(context.Background(), "tell me more about that", cached)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decision != DecisionCacheFollowup {
		t.Errorf("context tag must win over yes, got %s", decision)
	}
}

func TestGate_ContextWithoutCacheIsOwnKnowledge(t *testing.T) {
	g := NewGate(&gateBackend{reply: "context"}, "m", testTriggers)
	decision, _ := g.Decide(context.Background(), "what about it?", nil)
	if decision != DecisionOwnKnowledge {
		t.Errorf("context without cached research must not follow up, got %s", decision)
	}
}

func TestGate_UnrecognizedDefaultsToOwnKnowledge(t *testing.T) {
	g := NewGate(&gateBackend{reply: "I am not sure what to say"}, "m", testTriggers)
	decision, err := g.Decide(context.Background(), "hello there", nil)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decision != DecisionOwnKnowledge {
		t.Errorf("expected own knowledge, got %s", decision)
	}
}

func TestGate_ErrorFallsBackAndPropagates(t *testing.T) {
	g := NewGate(&gateBackend{err: errors.New("model down")}, "m", testTriggers)
	decision, err := g.Decide(context.Background(), "anything", nil)
	if decision != DecisionOwnKnowledge {
		t.Errorf("expected own knowledge fallback, got %s", decision)
	}
	if err == nil {
		t.Error("classifier error must propagate")
	}
}

func TestGate_DigestPreferredOverURLList(t *testing.T) {
	backend := &gateBackend{reply: "no"}
	g := NewGate(backend, "m", testTriggers)

	cached := &cache.Research{
		Query:   "go news",
		Summary: "Go 1.24 shipped with faster maps.",
		Sources: []cache.SourceRef{{URL: "https://go.dev", Title: "go.dev"}},
	}
	g.Decide(context.Background(), "anything else?", cached)

	if !strings.Contains(backend.prompt, "faster maps") {
		t.Error("digest missing from classifier prompt")
	}
	if strings.Contains(backend.prompt, "https://go.dev") {
		t.Error("raw URLs should not appear when a digest exists")
	}
}

func TestGate_URLFallbackWhenNoDigest(t *testing.T) {
	backend := &gateBackend{reply: "no"}
	g := NewGate(backend, "m", testTriggers)

	cached := &cache.Research{
		Query:   "go news",
		Sources: []cache.SourceRef{{URL: "https://go.dev", Title: "The Go site"}},
	}
	g.Decide(context.Background(), "anything else?", cached)

	if !strings.Contains(backend.prompt, "The Go site") || !strings.Contains(backend.prompt, "https://go.dev") {
		t.Error("URL+title fallback missing from classifier prompt")
	}
}
