package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubExtractor serves canned content per URL.
type stubExtractor struct {
	mu      sync.Mutex
	fail    map[string]bool
	delay   time.Duration
	delays  map[string]time.Duration
	visited []string
}

func (s *stubExtractor) Extract(ctx context.Context, url string) (*Source, error) {
	delay := s.delay
	if d, ok := s.delays[url]; ok {
		delay = d
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	s.visited = append(s.visited, url)
	failed := s.fail[url]
	s.mu.Unlock()

	if failed {
		return nil, errors.New("fetch failed")
	}
	return &Source{
		URL:       url,
		Title:     "Title " + url,
		Content:   strings.Repeat("word ", 200),
		WordCount: 200,
	}, nil
}

// stubPrewarmer records preload calls.
type stubPrewarmer struct {
	resident bool
	calls    atomic.Int32
}

func (s *stubPrewarmer) Preload(ctx context.Context, model string) error {
	s.calls.Add(1)
	return nil
}

func (s *stubPrewarmer) AlwaysResident() bool { return s.resident }

func urlList(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://example.com/page-%d", i)
	}
	return urls
}

func TestPool_QuickModeAttemptsThree(t *testing.T) {
	ext := &stubExtractor{}
	pool := NewPool(DefaultConfig(), ext, nil, "")

	sources, failed := pool.Scrape(context.Background(), urlList(10), ModeQuick, nil)
	if len(sources) != 3 {
		t.Errorf("expected 3 sources in quick mode, got %d", len(sources))
	}
	if failed != 0 {
		t.Errorf("expected no failures, got %d", failed)
	}
	if len(ext.visited) != 3 {
		t.Errorf("expected 3 URLs attempted, got %d", len(ext.visited))
	}
}

func TestPool_DeepModeAttemptsSevenTargetsFive(t *testing.T) {
	ext := &stubExtractor{}
	pool := NewPool(DefaultConfig(), ext, nil, "")

	sources, _ := pool.Scrape(context.Background(), urlList(10), ModeDeep, nil)
	if len(sources) < 5 {
		t.Errorf("expected at least 5 sources in deep mode, got %d", len(sources))
	}
	if len(ext.visited) > 7 {
		t.Errorf("deep mode must attempt at most 7 URLs, attempted %d", len(ext.visited))
	}
}

func TestPool_EarlyStopDrainsInFlightTasks(t *testing.T) {
	// Pages 5 and 6 are still running when the five fast successes
	// reach the deep-mode target. They must finish, not be aborted.
	ext := &stubExtractor{delays: map[string]time.Duration{
		"https://example.com/page-5": 50 * time.Millisecond,
		"https://example.com/page-6": 50 * time.Millisecond,
	}}
	pool := NewPool(DefaultConfig(), ext, nil, "")

	sources, failed := pool.Scrape(context.Background(), urlList(7), ModeDeep, nil)
	if failed != 0 {
		t.Errorf("in-flight tasks must drain after the success target, got %d failures", failed)
	}
	if len(sources) != 7 {
		t.Errorf("expected all 7 started tasks to finish, got %d", len(sources))
	}
}

func TestPool_PartialFailureTolerated(t *testing.T) {
	ext := &stubExtractor{fail: map[string]bool{
		"https://example.com/page-0": true,
		"https://example.com/page-2": true,
	}}
	pool := NewPool(DefaultConfig(), ext, nil, "")

	sources, failed := pool.Scrape(context.Background(), urlList(3), ModeQuick, nil)
	if len(sources) != 1 {
		t.Errorf("expected 1 source, got %d", len(sources))
	}
	if failed != 2 {
		t.Errorf("expected 2 failures, got %d", failed)
	}
}

func TestPool_AllFailuresYieldEmpty(t *testing.T) {
	fail := make(map[string]bool)
	for _, u := range urlList(3) {
		fail[u] = true
	}
	ext := &stubExtractor{fail: fail}
	pool := NewPool(DefaultConfig(), ext, nil, "")

	sources, failed := pool.Scrape(context.Background(), urlList(3), ModeQuick, nil)
	if len(sources) != 0 {
		t.Errorf("expected no sources, got %d", len(sources))
	}
	if failed != 3 {
		t.Errorf("expected 3 failures, got %d", failed)
	}
}

func TestPool_ProgressEvents(t *testing.T) {
	ext := &stubExtractor{}
	pool := NewPool(DefaultConfig(), ext, nil, "")

	var mu sync.Mutex
	var events []Progress
	pool.Scrape(context.Background(), urlList(3), ModeQuick, func(p Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})

	if len(events) != 3 {
		t.Fatalf("expected 3 progress events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Current != 3 || last.Total != 3 {
		t.Errorf("unexpected final progress: %+v", last)
	}
}

func TestPool_PrewarmRunsForNonResidentBackend(t *testing.T) {
	ext := &stubExtractor{}
	pw := &stubPrewarmer{resident: false}
	pool := NewPool(DefaultConfig(), ext, pw, "qwen3:14b")

	pool.Scrape(context.Background(), urlList(3), ModeQuick, nil)
	if pw.calls.Load() != 1 {
		t.Errorf("expected exactly 1 preload call, got %d", pw.calls.Load())
	}
}

func TestPool_PrewarmSkippedForResidentBackend(t *testing.T) {
	ext := &stubExtractor{}
	pw := &stubPrewarmer{resident: true}
	pool := NewPool(DefaultConfig(), ext, pw, "my-model")

	pool.Scrape(context.Background(), urlList(3), ModeQuick, nil)
	if pw.calls.Load() != 0 {
		t.Errorf("expected no preload for always-resident backend, got %d", pw.calls.Load())
	}
}

func TestPool_TaskTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TaskTimeout = 30 * time.Millisecond

	ext := &stubExtractor{delay: 500 * time.Millisecond}
	pool := NewPool(cfg, ext, nil, "")

	start := time.Now()
	sources, failed := pool.Scrape(context.Background(), urlList(2), ModeQuick, nil)
	if len(sources) != 0 {
		t.Errorf("expected timeouts, got %d sources", len(sources))
	}
	if failed != 2 {
		t.Errorf("expected 2 failures, got %d", failed)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeouts should bound the run, took %v", elapsed)
	}
}

func TestPool_EmptyURLList(t *testing.T) {
	pool := NewPool(DefaultConfig(), &stubExtractor{}, nil, "")
	sources, failed := pool.Scrape(context.Background(), nil, ModeDeep, nil)
	if len(sources) != 0 || failed != 0 {
		t.Errorf("expected empty run, got %d/%d", len(sources), failed)
	}
}
