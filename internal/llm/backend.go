// Package llm provides the inference backend contract and clients for
// local model servers: Ollama natively, vLLM and TabbyAPI through their
// OpenAI-compatible endpoints.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// BACKEND INTERFACE
// =============================================================================

// Backend is the contract every inference backend implements.
type Backend interface {
	// Chat runs a blocking completion and returns the full response.
	Chat(ctx context.Context, model string, messages []Message, opts Options) (*Response, error)

	// ChatStream runs a streaming completion. The returned channel yields
	// content chunks and is closed after the final chunk, which carries
	// Done=true and the response metrics.
	ChatStream(ctx context.Context, model string, messages []Message, opts Options) (<-chan StreamChunk, error)

	// ListModels returns the model names the backend is serving.
	ListModels(ctx context.Context) ([]string, error)

	// ContextLimit returns the maximum context window of a model in tokens.
	ContextLimit(ctx context.Context, model string) (int, error)

	// Preload asks the backend to load the model into memory.
	Preload(ctx context.Context, model string) error

	// AlwaysResident reports whether models stay loaded between requests,
	// making Preload unnecessary.
	AlwaysResident() bool

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Name returns the backend name.
	Name() string
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Options are per-request inference parameters. Zero values fall back to
// backend defaults except where noted.
type Options struct {
	Temperature   float64 // sampling temperature
	NumCtx        int     // context window in tokens
	NumPredict    int     // max tokens to generate, 0 = backend default
	RepeatPenalty float64 // default 1.1
	TopP          float64 // default 0.9
	TopK          int     // default 40
	Seed          int     // 0 = random
}

// withDefaults fills unset sampling parameters.
func (o Options) withDefaults() Options {
	if o.RepeatPenalty == 0 {
		o.RepeatPenalty = 1.1
	}
	if o.TopP == 0 {
		o.TopP = 0.9
	}
	if o.TopK == 0 {
		o.TopK = 40
	}
	return o
}

// Response is a completed inference result.
type Response struct {
	Text            string
	Model           string
	TokensPrompt    int
	TokensGenerated int
	TokensPerSecond float64
	InferenceTime   time.Duration
	TimeToFirst     time.Duration // time to first token, streaming only
}

// StreamChunk is one unit of a streaming response.
type StreamChunk struct {
	Text    string
	Done    bool
	Metrics *Response // set on the final chunk
	Err     error     // terminal error, also sets Done
}

// =============================================================================
// ERROR TAXONOMY
// =============================================================================

// ErrConnection indicates the backend could not be reached.
var ErrConnection = errors.New("backend connection failed")

// ErrModelNotFound indicates the requested model is not served.
var ErrModelNotFound = errors.New("model not found")

// InferenceError wraps a failure during generation.
type InferenceError struct {
	Backend string
	Model   string
	Err     error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("%s inference failed for %s: %v", e.Backend, e.Model, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// =============================================================================
// FACTORY
// =============================================================================

// Config holds backend construction parameters.
type Config struct {
	Backend string // ollama, vllm, tabbyapi
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// New creates a backend from configuration.
func New(cfg Config) (Backend, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	switch cfg.Backend {
	case "ollama":
		return NewOllamaBackend(cfg.BaseURL, cfg.Timeout), nil
	case "vllm":
		return NewOpenAIBackend("vllm", cfg.BaseURL, cfg.APIKey, cfg.Timeout), nil
	case "tabbyapi":
		return NewOpenAIBackend("tabbyapi", cfg.BaseURL, cfg.APIKey, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s (use 'ollama', 'vllm', or 'tabbyapi')", cfg.Backend)
	}
}
