package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if err != nil {
				t.Fatalf("CosineSimilarity failed: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %.6f, want %.6f", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); err == nil {
		t.Error("expected error for mismatched dimensions")
	}
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	got, err := CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("zero vector should yield 0 similarity, got %.4f", got)
	}
}

func TestFindNearest(t *testing.T) {
	query := []float32{1, 0, 0}
	corpus := [][]float32{
		{0, 1, 0},
		{0.9, 0.1, 0},
		{-1, 0, 0},
	}

	best := FindNearest(query, corpus)
	if best.Index != 1 {
		t.Errorf("expected index 1 as nearest, got %d", best.Index)
	}
	if best.Distance < 0 || best.Distance > 0.2 {
		t.Errorf("unexpected distance %.4f", best.Distance)
	}
}

func TestFindNearest_EmptyCorpus(t *testing.T) {
	best := FindNearest([]float32{1, 0}, nil)
	if best.Index != -1 {
		t.Errorf("expected index -1 for empty corpus, got %d", best.Index)
	}
}

func TestOllamaEngine_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("unexpected model: %s", req.Model)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	engine, err := NewOllamaEngine(server.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("NewOllamaEngine failed: %v", err)
	}

	vec, err := engine.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3-dim vector, got %d", len(vec))
	}
	// Dimensions learned from the first embed.
	if engine.Dimensions() != 3 {
		t.Errorf("expected learned dimensions 3, got %d", engine.Dimensions())
	}
}

func TestOllamaEngine_EmbedServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	engine, _ := NewOllamaEngine(server.URL, "missing-model")
	if _, err := engine.Embed(context.Background(), "text"); err == nil {
		t.Error("expected error for server failure")
	}
}

func TestNewEngine_UnsupportedProvider(t *testing.T) {
	if _, err := NewEngine(Config{Provider: "cohere"}); err == nil {
		t.Error("expected error for unsupported provider")
	}
}
