package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNew_UnsupportedBackend(t *testing.T) {
	if _, err := New(Config{Backend: "llamacpp"}); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

func TestNew_Flavors(t *testing.T) {
	tests := []struct {
		backend  string
		resident bool
	}{
		{"ollama", false},
		{"vllm", true},
		{"tabbyapi", true},
	}
	for _, tt := range tests {
		b, err := New(Config{Backend: tt.backend, BaseURL: "http://localhost:1"})
		if err != nil {
			t.Fatalf("New(%s) failed: %v", tt.backend, err)
		}
		if b.Name() != tt.backend {
			t.Errorf("expected name %s, got %s", tt.backend, b.Name())
		}
		if b.AlwaysResident() != tt.resident {
			t.Errorf("%s: expected AlwaysResident=%v", tt.backend, tt.resident)
		}
	}
}

func TestOptions_Defaults(t *testing.T) {
	o := Options{Temperature: 0.2}.withDefaults()
	if o.RepeatPenalty != 1.1 {
		t.Errorf("expected repeat penalty 1.1, got %.2f", o.RepeatPenalty)
	}
	if o.TopP != 0.9 {
		t.Errorf("expected top_p 0.9, got %.2f", o.TopP)
	}
	if o.TopK != 40 {
		t.Errorf("expected top_k 40, got %d", o.TopK)
	}
}

func TestOllamaBackend_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		if req.Options.NumCtx != 4096 {
			t.Errorf("expected num_ctx 4096, got %d", req.Options.NumCtx)
		}
		resp := ollamaChatResponse{Done: true, EvalCount: 50, PromptEvalCount: 20, EvalDuration: int64(time.Second), TotalDuration: int64(2 * time.Second)}
		resp.Message.Content = "the answer"
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	b := NewOllamaBackend(server.URL, 10*time.Second)
	resp, err := b.Chat(context.Background(), "qwen3:14b", []Message{{Role: "user", Content: "question"}}, Options{NumCtx: 4096})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Text != "the answer" {
		t.Errorf("unexpected text: %q", resp.Text)
	}
	if resp.TokensGenerated != 50 || resp.TokensPrompt != 20 {
		t.Errorf("unexpected token counts: %d/%d", resp.TokensPrompt, resp.TokensGenerated)
	}
	if resp.TokensPerSecond < 49 || resp.TokensPerSecond > 51 {
		t.Errorf("expected ~50 tok/s, got %.1f", resp.TokensPerSecond)
	}
}

func TestOllamaBackend_ChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunks := []string{"Hello", " world"}
		enc := json.NewEncoder(w)
		for _, c := range chunks {
			var resp ollamaChatResponse
			resp.Message.Content = c
			enc.Encode(resp)
		}
		final := ollamaChatResponse{Done: true, EvalCount: 2, PromptEvalCount: 5, EvalDuration: int64(time.Second)}
		enc.Encode(final)
	}))
	defer server.Close()

	b := NewOllamaBackend(server.URL, 10*time.Second)
	stream, err := b.ChatStream(context.Background(), "qwen3:14b", []Message{{Role: "user", Content: "hi"}}, Options{})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	var text strings.Builder
	var metrics *Response
	for chunk := range stream {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		text.WriteString(chunk.Text)
		if chunk.Done {
			metrics = chunk.Metrics
		}
	}

	if text.String() != "Hello world" {
		t.Errorf("unexpected streamed text: %q", text.String())
	}
	if metrics == nil {
		t.Fatal("expected final metrics")
	}
	if metrics.TokensGenerated != 2 {
		t.Errorf("expected 2 generated tokens, got %d", metrics.TokensGenerated)
	}
	if metrics.TimeToFirst <= 0 {
		t.Error("expected non-zero time to first token")
	}
}

func TestOllamaBackend_ContextLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/show" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"model_info":{"qwen2.context_length":32768,"qwen2.embedding_length":5120}}`)
	}))
	defer server.Close()

	b := NewOllamaBackend(server.URL, 10*time.Second)
	limit, err := b.ContextLimit(context.Background(), "qwen3:14b")
	if err != nil {
		t.Fatalf("ContextLimit failed: %v", err)
	}
	if limit != 32768 {
		t.Errorf("expected 32768, got %d", limit)
	}
}

func TestOllamaBackend_ContextLimitModelNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	b := NewOllamaBackend(server.URL, 10*time.Second)
	_, err := b.ContextLimit(context.Background(), "ghost-model")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestOllamaBackend_ListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"qwen3:14b"},{"name":"nomic-embed-text"}]}`)
	}))
	defer server.Close()

	b := NewOllamaBackend(server.URL, 10*time.Second)
	models, err := b.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[0] != "qwen3:14b" {
		t.Errorf("unexpected models: %v", models)
	}
}

func TestOpenAIBackend_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"vllm answer"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`)
	}))
	defer server.Close()

	b := NewOpenAIBackend("vllm", server.URL, "test-key", 10*time.Second)
	resp, err := b.Chat(context.Background(), "my-model", []Message{{Role: "user", Content: "q"}}, Options{})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Text != "vllm answer" {
		t.Errorf("unexpected text: %q", resp.Text)
	}
	if resp.TokensPrompt != 10 || resp.TokensGenerated != 5 {
		t.Errorf("unexpected usage: %d/%d", resp.TokensPrompt, resp.TokensGenerated)
	}
}

func TestOpenAIBackend_ChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"str\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"eamed\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":8,\"completion_tokens\":2}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	b := NewOpenAIBackend("tabbyapi", server.URL, "", 10*time.Second)
	stream, err := b.ChatStream(context.Background(), "m", []Message{{Role: "user", Content: "q"}}, Options{})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	var text strings.Builder
	var metrics *Response
	for chunk := range stream {
		if chunk.Err != nil {
			t.Fatalf("stream error: %v", chunk.Err)
		}
		text.WriteString(chunk.Text)
		if chunk.Done {
			metrics = chunk.Metrics
		}
	}
	if text.String() != "streamed" {
		t.Errorf("unexpected text: %q", text.String())
	}
	if metrics == nil || metrics.TokensGenerated != 2 {
		t.Errorf("unexpected metrics: %+v", metrics)
	}
}

func TestOpenAIBackend_ContextLimitVLLM(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"my-model","max_model_len":16384}]}`)
	}))
	defer server.Close()

	b := NewOpenAIBackend("vllm", server.URL, "", 10*time.Second)
	limit, err := b.ContextLimit(context.Background(), "my-model")
	if err != nil {
		t.Fatalf("ContextLimit failed: %v", err)
	}
	if limit != 16384 {
		t.Errorf("expected 16384, got %d", limit)
	}

	if _, err := b.ContextLimit(context.Background(), "other"); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("expected ErrModelNotFound, got %v", err)
	}
}

func TestOpenAIBackend_ContextLimitTabby(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/model" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":"my-model","max_seq_len":8192}`)
	}))
	defer server.Close()

	b := NewOpenAIBackend("tabbyapi", server.URL, "", 10*time.Second)
	limit, err := b.ContextLimit(context.Background(), "my-model")
	if err != nil {
		t.Fatalf("ContextLimit failed: %v", err)
	}
	if limit != 8192 {
		t.Errorf("expected 8192, got %d", limit)
	}
}

func TestInferenceError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &InferenceError{Backend: "ollama", Model: "m", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("expected errors.Is to find wrapped error")
	}
	if !strings.Contains(err.Error(), "ollama") {
		t.Errorf("error string should name the backend: %s", err.Error())
	}
}
