package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Tavily queries the Tavily search API.
type Tavily struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewTavily constructs a Tavily search provider.
func NewTavily(apiKey string) *Tavily {
	return &Tavily{
		apiKey:   apiKey,
		endpoint: "https://api.tavily.com/search",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// NewTavilyWithEndpoint overrides the API endpoint. Used in tests.
func NewTavilyWithEndpoint(apiKey, endpoint string) *Tavily {
	t := NewTavily(apiKey)
	t.endpoint = endpoint
	return t
}

// Name returns the provider name.
func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search executes a Tavily query.
func (t *Tavily) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if strings.TrimSpace(t.apiKey) == "" {
		return nil, fmt.Errorf("tavily: %w", ErrMissingCredentials)
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:     t.apiKey,
		Query:      query,
		MaxResults: max,
	})
	if err != nil {
		return nil, fmt.Errorf("tavily marshal failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("tavily: %w", ErrRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("tavily http %d: %w", resp.StatusCode, ErrMissingCredentials)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var payload tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("tavily decode failed: %w", err)
	}

	results := make([]Result, 0, len(payload.Results))
	for _, r := range payload.Results {
		results = append(results, Result{
			Title:    r.Title,
			URL:      r.URL,
			Snippet:  r.Content,
			Provider: "tavily",
		})
		if max > 0 && len(results) >= max {
			break
		}
	}
	return results, nil
}
