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
// OPENAI-COMPATIBLE BACKEND (vLLM, TabbyAPI)
// =============================================================================

// OpenAIBackend talks to OpenAI-compatible chat completion endpoints.
// Both vLLM and TabbyAPI keep their models resident, so Preload is a
// no-op and AlwaysResident reports true.
type OpenAIBackend struct {
	flavor  string // vllm or tabbyapi
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewOpenAIBackend creates a client for a vLLM or TabbyAPI server.
func NewOpenAIBackend(flavor, baseURL, apiKey string, timeout time.Duration) *OpenAIBackend {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	return &OpenAIBackend{
		flavor:  flavor,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the backend name.
func (b *OpenAIBackend) Name() string { return b.flavor }

// AlwaysResident reports true: these servers keep the model loaded.
func (b *OpenAIBackend) AlwaysResident() bool { return true }

// Preload is a no-op for always-resident backends.
func (b *OpenAIBackend) Preload(ctx context.Context, model string) error { return nil }

// Chat runs a blocking completion.
func (b *OpenAIBackend) Chat(ctx context.Context, model string, messages []Message, opts Options) (*Response, error) {
	timer := logging.StartTimer(logging.CategoryLLM, b.flavor+".Chat")
	defer timer.Stop()

	o := opts.withDefaults()
	req := openaiChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: o.Temperature,
		TopP:        o.TopP,
		MaxTokens:   o.NumPredict,
	}

	start := time.Now()
	resp, err := b.post(ctx, "/v1/chat/completions", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, b.statusError(model, resp)
	}

	var result openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, &InferenceError{Backend: b.flavor, Model: model, Err: fmt.Errorf("no choices returned")}
	}

	elapsed := time.Since(start)
	out := &Response{
		Text:            result.Choices[0].Message.Content,
		Model:           model,
		TokensPrompt:    result.Usage.PromptTokens,
		TokensGenerated: result.Usage.CompletionTokens,
		InferenceTime:   elapsed,
	}
	if elapsed > 0 {
		out.TokensPerSecond = float64(out.TokensGenerated) / elapsed.Seconds()
	}
	return out, nil
}

// ChatStream runs a streaming completion over SSE.
func (b *OpenAIBackend) ChatStream(ctx context.Context, model string, messages []Message, opts Options) (<-chan StreamChunk, error) {
	o := opts.withDefaults()
	req := openaiChatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: o.Temperature,
		TopP:        o.TopP,
		MaxTokens:   o.NumPredict,
		Stream:      true,
		StreamOptions: &openaiStreamOptions{
			IncludeUsage: true,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

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
		var generated int
		var promptTokens int

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}

			var chunk openaiStreamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				out <- StreamChunk{Err: fmt.Errorf("failed to decode stream chunk: %w", err), Done: true}
				return
			}
			if chunk.Usage != nil {
				promptTokens = chunk.Usage.PromptTokens
				generated = chunk.Usage.CompletionTokens
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if firstToken == 0 {
					firstToken = time.Since(start)
				}
				select {
				case out <- StreamChunk{Text: chunk.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamChunk{Err: fmt.Errorf("stream read failed: %w", err), Done: true}
			return
		}

		elapsed := time.Since(start)
		metrics := &Response{
			Model:           model,
			TokensPrompt:    promptTokens,
			TokensGenerated: generated,
			InferenceTime:   elapsed,
			TimeToFirst:     firstToken,
		}
		if elapsed > 0 {
			metrics.TokensPerSecond = float64(generated) / elapsed.Seconds()
		}
		out <- StreamChunk{Done: true, Metrics: metrics}
	}()

	return out, nil
}

// ListModels returns the models served by the backend.
func (b *OpenAIBackend) ListModels(ctx context.Context) ([]string, error) {
	resp, err := b.get(ctx, "/v1/models")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s /v1/models returned status %d", b.flavor, resp.StatusCode)
	}

	var result struct {
		Data []openaiModel `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}

	names := make([]string, 0, len(result.Data))
	for _, m := range result.Data {
		names = append(names, m.ID)
	}
	return names, nil
}

// ContextLimit returns the model's maximum context window. vLLM reports
// max_model_len on /v1/models; TabbyAPI reports max_seq_len on /v1/model.
func (b *OpenAIBackend) ContextLimit(ctx context.Context, model string) (int, error) {
	if b.flavor == "tabbyapi" {
		resp, err := b.get(ctx, "/v1/model")
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("tabbyapi /v1/model returned status %d", resp.StatusCode)
		}
		var info struct {
			MaxSeqLen int `json:"max_seq_len"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return 0, fmt.Errorf("failed to decode model info: %w", err)
		}
		if info.MaxSeqLen == 0 {
			return 0, fmt.Errorf("context length not reported by tabbyapi")
		}
		return info.MaxSeqLen, nil
	}

	resp, err := b.get(ctx, "/v1/models")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%s /v1/models returned status %d", b.flavor, resp.StatusCode)
	}

	var result struct {
		Data []openaiModel `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode model list: %w", err)
	}

	for _, m := range result.Data {
		if m.ID == model {
			if m.MaxModelLen > 0 {
				return m.MaxModelLen, nil
			}
			return 0, fmt.Errorf("context length not reported for model %s", model)
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrModelNotFound, model)
}

// HealthCheck verifies the backend is reachable.
func (b *OpenAIBackend) HealthCheck(ctx context.Context) error {
	resp, err := b.get(ctx, "/v1/models")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s health check returned status %d", b.flavor, resp.StatusCode)
	}
	return nil
}

func (b *OpenAIBackend) get(ctx context.Context, path string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", b.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return resp, nil
}

func (b *OpenAIBackend) post(ctx context.Context, path string, req interface{}) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return resp, nil
}

func (b *OpenAIBackend) statusError(model string, resp *http.Response) error {
	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrModelNotFound, model)
	}
	return &InferenceError{
		Backend: b.flavor,
		Model:   model,
		Err:     fmt.Errorf("status %d: %s", resp.StatusCode, string(bodyBytes)),
	}
}

// =============================================================================
// OPENAI API TYPES
// =============================================================================

type openaiChatRequest struct {
	Model         string               `json:"model"`
	Messages      []Message            `json:"messages"`
	Temperature   float64              `json:"temperature"`
	TopP          float64              `json:"top_p,omitempty"`
	MaxTokens     int                  `json:"max_tokens,omitempty"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage openaiUsage `json:"usage"`
}

type openaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
}

type openaiModel struct {
	ID          string `json:"id"`
	MaxModelLen int    `json:"max_model_len"`
}
