package cache

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"webscout/internal/llm"
)

type scriptedBackend struct {
	reply string
	err   error
	opts  llm.Options
}

func (s *scriptedBackend) Chat(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (*llm.Response, error) {
	s.opts = opts
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Text: s.reply, Model: model}, nil
}

func (s *scriptedBackend) ChatStream(ctx context.Context, model string, msgs []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func (s *scriptedBackend) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (s *scriptedBackend) ContextLimit(ctx context.Context, model string) (int, error) {
	return 8192, nil
}
func (s *scriptedBackend) Preload(ctx context.Context, model string) error { return nil }
func (s *scriptedBackend) AlwaysResident() bool                            { return false }
func (s *scriptedBackend) HealthCheck(ctx context.Context) error           { return nil }
func (s *scriptedBackend) Name() string                                    { return "scripted" }

func TestGenerateDigest(t *testing.T) {
	backend := &scriptedBackend{reply: "  Go 1.18 added generics.\n"}
	digest, err := GenerateDigest(context.Background(), backend, "qwen3:4b", "long research answer")
	if err != nil {
		t.Fatalf("GenerateDigest failed: %v", err)
	}
	if digest != "Go 1.18 added generics." {
		t.Errorf("unexpected digest: %q", digest)
	}
	if backend.opts.Temperature != 0.1 || backend.opts.NumPredict != 100 {
		t.Errorf("unexpected generation options: %+v", backend.opts)
	}
}

func TestGenerateDigest_ClipsLongReply(t *testing.T) {
	backend := &scriptedBackend{reply: strings.Repeat("word ", 100)}
	digest, err := GenerateDigest(context.Background(), backend, "m", "answer")
	if err != nil {
		t.Fatalf("GenerateDigest failed: %v", err)
	}
	if n := len([]rune(digest)); n != 150 {
		t.Errorf("digest not clipped to 150 chars, got %d", n)
	}
	if !strings.HasSuffix(digest, "...") {
		t.Errorf("clipped digest missing ellipsis: %q", digest)
	}
}

func TestGenerateDigest_ClipsOnRuneBoundary(t *testing.T) {
	backend := &scriptedBackend{reply: strings.Repeat("é", 200)}
	digest, err := GenerateDigest(context.Background(), backend, "m", "answer")
	if err != nil {
		t.Fatalf("GenerateDigest failed: %v", err)
	}
	if !utf8.ValidString(digest) {
		t.Error("clip split a multibyte rune")
	}
	if n := len([]rune(digest)); n != 150 {
		t.Errorf("expected 150 runes, got %d", n)
	}
	if !strings.HasSuffix(digest, "...") {
		t.Errorf("clipped digest missing ellipsis: %q", digest)
	}
}
