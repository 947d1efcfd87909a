package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"webscout/internal/logging"
	"webscout/internal/urlutil"
)

// Fanout runs a query against every configured provider in parallel and
// merges the results in provider-priority order. A provider failure never
// fails the run: the failure is recorded in Stats and the remaining
// providers' results are returned. All providers failing yields an empty
// result set and a nil error.
type Fanout struct {
	providers []Provider // priority order: earlier providers win URL collisions
	timeout   time.Duration
	maxPer    int
}

// NewFanout creates a fan-out over the given providers. The slice order
// is the merge priority.
func NewFanout(providers []Provider, perProviderTimeout time.Duration, maxPerProvider int) *Fanout {
	if perProviderTimeout == 0 {
		perProviderTimeout = 15 * time.Second
	}
	if maxPerProvider == 0 {
		maxPerProvider = 10
	}
	return &Fanout{
		providers: providers,
		timeout:   perProviderTimeout,
		maxPer:    maxPerProvider,
	}
}

// Search fans the query out to all providers and returns the merged,
// deduplicated results plus run statistics.
func (f *Fanout) Search(ctx context.Context, query string) ([]Result, Stats, error) {
	timer := logging.StartTimer(logging.CategorySearch, "Fanout.Search")
	defer timer.StopWithInfo()

	stats := Stats{Failed: make(map[string]string)}
	if len(f.providers) == 0 {
		logging.SearchWarn("No search providers configured")
		return nil, stats, nil
	}

	perProvider := make([][]Result, len(f.providers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range f.providers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, f.timeout)
			defer cancel()

			results, err := p.Search(pctx, query, f.maxPer)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed[p.Name()] = failureReason(err)
				logging.SearchWarn("Provider %s failed: %v", p.Name(), err)
				return nil // provider failures never abort the group
			}
			perProvider[i] = results
			stats.Succeeded = append(stats.Succeeded, p.Name())
			logging.SearchDebug("Provider %s returned %d results", p.Name(), len(results))
			return nil
		})
	}
	// Errors are swallowed per provider; Wait only observes ctx cancellation.
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	// Merge in priority order so earlier providers win URL collisions.
	var merged []Result
	for _, results := range perProvider {
		merged = append(merged, results...)
	}
	stats.TotalResults = len(merged)

	seen := make(map[string]bool, len(merged))
	unique := merged[:0]
	for _, r := range merged {
		key := urlutil.Normalize(r.URL)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, r)
	}
	stats.UniqueResults = len(unique)
	stats.DuplicatesRemoved = stats.TotalResults - stats.UniqueResults

	logging.Search("Fan-out: %d total, %d unique, %d duplicates removed, %d/%d providers succeeded",
		stats.TotalResults, stats.UniqueResults, stats.DuplicatesRemoved,
		len(stats.Succeeded), len(f.providers))

	return unique, stats, nil
}

// failureReason maps provider errors to short stable labels for stats.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredentials):
		return "credentials_missing"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
