package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestTavily_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		fmt.Fprint(w, `{"results":[
			{"title":"Go","url":"https://go.dev","content":"The Go language"},
			{"title":"Docs","url":"https://go.dev/doc","content":"Documentation"}
		]}`)
	}))
	defer server.Close()

	p := NewTavilyWithEndpoint("tvly-key", server.URL)
	results, err := p.Search(context.Background(), "golang", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Provider != "tavily" || results[0].URL != "https://go.dev" {
		t.Errorf("unexpected first result: %+v", results[0])
	}
}

func TestTavily_MissingKey(t *testing.T) {
	p := NewTavily("")
	_, err := p.Search(context.Background(), "q", 5)
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestTavily_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewTavilyWithEndpoint("tvly-key", server.URL)
	_, err := p.Search(context.Background(), "q", 5)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestBrave_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "brave-key" {
			t.Errorf("missing subscription token, got %q", got)
		}
		w.Header().Set("X-RateLimit-Remaining", "1, 1000")
		fmt.Fprint(w, `{"web":{"results":[
			{"title":"A","url":"https://a.example","description":"first"},
			{"title":"B","url":"https://b.example","description":"second"}
		]}}`)
	}))
	defer server.Close()

	p := NewBraveWithEndpoint("brave-key", server.URL)
	results, err := p.Search(context.Background(), "query", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[1].Snippet != "second" {
		t.Errorf("unexpected snippet: %q", results[1].Snippet)
	}
}

func TestBrave_MaxCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "1, 1000")
		fmt.Fprint(w, `{"web":{"results":[
			{"title":"A","url":"https://a.example","description":""},
			{"title":"B","url":"https://b.example","description":""},
			{"title":"C","url":"https://c.example","description":""}
		]}}`)
	}))
	defer server.Close()

	p := NewBraveWithEndpoint("brave-key-cap", server.URL)
	results, err := p.Search(context.Background(), "query", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("expected results capped at 2, got %d", len(results))
	}
}

func TestBrave_MissingKey(t *testing.T) {
	p := NewBrave("")
	_, err := p.Search(context.Background(), "q", 5)
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestBrave_RateLimitedAfterRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("X-RateLimit-Reset", "0")
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewBraveWithEndpoint("brave-key-429", server.URL)
	_, err := p.Search(context.Background(), "q", 5)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected exactly one retry (2 calls), got %d", calls.Load())
	}
}

func TestSearXNG_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("format") != "json" {
			t.Error("expected format=json")
		}
		fmt.Fprint(w, `{"results":[{"title":"X","url":"https://x.example","content":"body"}]}`)
	}))
	defer server.Close()

	p := NewSearXNG(server.URL)
	results, err := p.Search(context.Background(), "query", 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].Provider != "searxng" {
		t.Errorf("unexpected results: %v", results)
	}
}

func TestSearXNG_NoBaseURL(t *testing.T) {
	p := NewSearXNG("")
	_, err := p.Search(context.Background(), "q", 5)
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
}
