package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// braveKeyGate holds a per-API-key mutex and the earliest time a request
// is allowed. All Brave instances sharing an API key share one gate so
// that only one request per second is issued for that key, matching the
// Brave free-tier limit of 1 req/s.
type braveKeyGate struct {
	mu      sync.Mutex
	readyAt time.Time
}

var (
	braveGatesMu sync.Mutex
	braveGates   = map[string]*braveKeyGate{}
)

func braveGateFor(apiKey string) *braveKeyGate {
	braveGatesMu.Lock()
	defer braveGatesMu.Unlock()
	g, ok := braveGates[apiKey]
	if !ok {
		g = &braveKeyGate{}
		braveGates[apiKey] = g
	}
	return g
}

// waitAndLock blocks until the caller may issue a request, then returns
// with the gate locked. The caller MUST call unlock(delay) afterwards.
func (g *braveKeyGate) waitAndLock(ctx context.Context) error {
	g.mu.Lock()
	now := time.Now()
	if wait := g.readyAt.Sub(now); wait > 0 {
		g.mu.Unlock() // release while sleeping
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		g.mu.Lock()
	}
	return nil
}

func (g *braveKeyGate) unlock(delay time.Duration) {
	g.readyAt = time.Now().Add(delay)
	g.mu.Unlock()
}

// Brave queries the Brave Search API. Requires an API key sent via the
// X-Subscription-Token header.
type Brave struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewBrave constructs a Brave search provider.
func NewBrave(apiKey string) *Brave {
	return &Brave{
		apiKey:   apiKey,
		endpoint: "https://api.search.brave.com/res/v1/web/search",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// NewBraveWithEndpoint overrides the API endpoint. Used in tests.
func NewBraveWithEndpoint(apiKey, endpoint string) *Brave {
	b := NewBrave(apiKey)
	b.endpoint = endpoint
	return b
}

// Name returns the provider name.
func (b *Brave) Name() string { return "brave" }

// Search executes a Brave query. Concurrent calls sharing the same API
// key are serialized through a shared per-key gate. A 429 is retried once
// after the advertised reset delay, then reported as ErrRateLimited.
func (b *Brave) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if strings.TrimSpace(b.apiKey) == "" {
		return nil, fmt.Errorf("brave: %w", ErrMissingCredentials)
	}

	endpoint := fmt.Sprintf("%s?q=%s", b.endpoint, url.QueryEscape(query))
	gate := braveGateFor(b.apiKey)

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		if err := gate.waitAndLock(ctx); err != nil {
			return nil, err
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if reqErr != nil {
			gate.unlock(0)
			return nil, reqErr
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("X-Subscription-Token", b.apiKey)

		var err error
		resp, err = b.client.Do(req)
		if err != nil {
			gate.unlock(1 * time.Second) // back off before letting others try
			return nil, fmt.Errorf("brave request failed: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			gate.unlock(braveNextDelay(resp.Header))
			break
		}

		wait := braveRetryDelay(resp.Header)
		resp.Body.Close()
		gate.unlock(wait)

		if attempt >= 1 {
			return nil, fmt.Errorf("brave: %w", ErrRateLimited)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("brave http %d: %w", resp.StatusCode, ErrMissingCredentials)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave http %d", resp.StatusCode)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("brave decode failed: %w", err)
	}

	results := make([]Result, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		results = append(results, Result{
			Title:    r.Title,
			URL:      r.URL,
			Snippet:  r.Description,
			Provider: "brave",
		})
		if max > 0 && len(results) >= max {
			break
		}
	}
	return results, nil
}

// braveRetryDelay reads X-RateLimit-Reset to determine how long to wait
// before retrying. The header is a comma-separated list of reset times in
// seconds; the smallest value applies. Falls back to 1 second.
func braveRetryDelay(h http.Header) time.Duration {
	raw := h.Get("X-RateLimit-Reset")
	if raw == "" {
		return 1 * time.Second
	}
	minReset := -1
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			continue
		}
		if minReset < 0 || n < minReset {
			minReset = n
		}
	}
	if minReset <= 0 {
		return 1 * time.Second
	}
	return time.Duration(minReset) * time.Second
}

// braveNextDelay reads X-RateLimit-Remaining to decide how long to hold
// the gate before the next request. The header is comma-separated:
// "0, 14832" (per-second, per-month).
func braveNextDelay(h http.Header) time.Duration {
	raw := h.Get("X-RateLimit-Remaining")
	if raw == "" {
		return 1 * time.Second // be conservative when the header is absent
	}
	parts := strings.SplitN(raw, ",", 2)
	perSecond, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || perSecond <= 0 {
		return 1 * time.Second
	}
	return 0
}
