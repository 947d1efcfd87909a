// Package search provides web search providers (Tavily, Brave, SearXNG)
// and a parallel fan-out that merges and deduplicates their results.
package search

import "context"

// Result is a single search hit.
type Result struct {
	Title    string
	URL      string
	Snippet  string
	Provider string
}

// Provider is a web search backend.
type Provider interface {
	// Search runs a query and returns up to max results.
	Search(ctx context.Context, query string, max int) ([]Result, error)

	// Name returns the provider name.
	Name() string
}

// Stats summarizes a fan-out run.
type Stats struct {
	TotalResults      int      // results collected across all providers
	UniqueResults     int      // after URL deduplication
	DuplicatesRemoved int
	Succeeded         []string // provider names that returned results or empty success
	Failed            map[string]string // provider name -> failure reason
}
