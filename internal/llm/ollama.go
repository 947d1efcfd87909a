package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"webscout/internal/logging"
)

// =============================================================================
// OLLAMA BACKEND
// =============================================================================

// OllamaBackend talks to a local Ollama server over its native API.
type OllamaBackend struct {
	baseURL string
	client  *http.Client
}

// NewOllamaBackend creates a new Ollama backend client.
func NewOllamaBackend(baseURL string, timeout time.Duration) *OllamaBackend {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the backend name.
func (b *OllamaBackend) Name() string { return "ollama" }

// AlwaysResident reports false: Ollama loads and unloads models on demand.
func (b *OllamaBackend) AlwaysResident() bool { return false }

// Chat runs a blocking completion.
func (b *OllamaBackend) Chat(ctx context.Context, model string, messages []Message, opts Options) (*Response, error) {
	timer := logging.StartTimer(logging.CategoryLLM, "ollama.Chat")
	defer timer.Stop()

	req := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
		Options:  toOllamaOptions(opts.withDefaults()),
	}

	var result ollamaChatResponse
	if err := b.postJSON(ctx, "/api/chat", req, &result); err != nil {
		logging.LLMError("ollama chat failed: model=%s: %v", model, err)
		return nil, err
	}

	resp := responseFromOllama(model, &result)
	logging.LLMDebug("ollama chat: model=%s prompt_tokens=%d gen_tokens=%d %.1f tok/s",
		model, resp.TokensPrompt, resp.TokensGenerated, resp.TokensPerSecond)
	return resp, nil
}

// ChatStream runs a streaming completion over NDJSON.
func (b *OllamaBackend) ChatStream(ctx context.Context, model string, messages []Message, opts Options) (<-chan StreamChunk, error) {
	req := ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options:  toOllamaOptions(opts.withDefaults()),
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Streaming requests manage their own lifetime via ctx, not the
	// client timeout.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, b.statusError(model, resp)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		start := time.Now()
		var firstToken time.Duration
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				out <- StreamChunk{Err: fmt.Errorf("failed to decode stream chunk: %w", err), Done: true}
				return
			}
			if chunk.Message.Content != "" {
				if firstToken == 0 {
					firstToken = time.Since(start)
				}
				select {
				case out <- StreamChunk{Text: chunk.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				metrics := responseFromOllama(model, &chunk)
				metrics.TimeToFirst = firstToken
				out <- StreamChunk{Done: true, Metrics: metrics}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: fmt.Errorf("stream read failed: %w", err), Done: true}
		}
	}()

	return out, nil
}

// ListModels returns the models served by Ollama.
func (b *OllamaBackend) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", b.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama /api/tags returned status %d", resp.StatusCode)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	names := make([]string, 0, len(result.Models))
	for _, m := range result.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// ContextLimit queries /api/show for the model's context length.
func (b *OllamaBackend) ContextLimit(ctx context.Context, model string) (int, error) {
	req := map[string]string{"model": model}

	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("%w: %s", ErrModelNotFound, model)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ollama /api/show returned status %d", resp.StatusCode)
	}

	var result struct {
		ModelInfo map[string]interface{} `json:"model_info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode model info: %w", err)
	}

	// The key is architecture-prefixed, e.g. "llama.context_length".
	for key, val := range result.ModelInfo {
		if strings.HasSuffix(key, ".context_length") {
			if f, ok := val.(float64); ok {
				return int(f), nil
			}
		}
	}

	return 0, fmt.Errorf("context length not reported for model %s", model)
}

// Preload asks Ollama to load the model with an empty generate call.
func (b *OllamaBackend) Preload(ctx context.Context, model string) error {
	timer := logging.StartTimer(logging.CategoryLLM, "ollama.Preload")
	defer timer.StopWithInfo()

	req := map[string]interface{}{"model": model}
	var result json.RawMessage
	if err := b.postJSON(ctx, "/api/generate", req, &result); err != nil {
		return fmt.Errorf("preload failed: %w", err)
	}
	logging.LLM("Model %s preloaded", model)
	return nil
}

// HealthCheck verifies the Ollama server is reachable.
func (b *OllamaBackend) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", b.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned status %d", resp.StatusCode)
	}
	return nil
}

// postJSON posts a JSON body and decodes the JSON response.
func (b *OllamaBackend) postJSON(ctx context.Context, path string, req interface{}, out interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return b.statusErrorFromBody(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (b *OllamaBackend) statusError(model string, resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrModelNotFound, model)
	}
	bodyBytes, _ := io.ReadAll(resp.Body)
	return &InferenceError{
		Backend: "ollama",
		Model:   model,
		Err:     fmt.Errorf("status %d: %s", resp.StatusCode, string(bodyBytes)),
	}
}

func (b *OllamaBackend) statusErrorFromBody(resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrModelNotFound, string(bodyBytes))
	}
	return fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(bodyBytes))
}

func responseFromOllama(model string, r *ollamaChatResponse) *Response {
	resp := &Response{
		Text:            r.Message.Content,
		Model:           model,
		TokensPrompt:    r.PromptEvalCount,
		TokensGenerated: r.EvalCount,
		InferenceTime:   time.Duration(r.TotalDuration),
	}
	if r.EvalDuration > 0 {
		resp.TokensPerSecond = float64(r.EvalCount) / (float64(r.EvalDuration) / 1e9)
	}
	return resp
}

// =============================================================================
// OLLAMA API TYPES
// =============================================================================

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature   float64 `json:"temperature"`
	NumCtx        int     `json:"num_ctx,omitempty"`
	NumPredict    int     `json:"num_predict,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	TopK          int     `json:"top_k,omitempty"`
	Seed          int     `json:"seed,omitempty"`
}

func toOllamaOptions(o Options) ollamaOptions {
	return ollamaOptions{
		Temperature:   o.Temperature,
		NumCtx:        o.NumCtx,
		NumPredict:    o.NumPredict,
		RepeatPenalty: o.RepeatPenalty,
		TopP:          o.TopP,
		TopK:          o.TopK,
		Seed:          o.Seed,
	}
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool  `json:"done"`
	TotalDuration   int64 `json:"total_duration"`
	EvalDuration    int64 `json:"eval_duration"`
	EvalCount       int   `json:"eval_count"`
	PromptEvalCount int   `json:"prompt_eval_count"`
}
