package scrape

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"webscout/internal/logging"
)

// Mode selects how many URLs are attempted and how many successes end
// the run.
type Mode string

const (
	// ModeQuick attempts a small fixed set of URLs.
	ModeQuick Mode = "quick"
	// ModeDeep attempts more URLs and stops early once the success
	// target is reached.
	ModeDeep Mode = "deep"
)

// Progress reports scraping progress after each completed task.
type Progress struct {
	Current int // completed tasks, success or failure
	Total   int // tasks scheduled
	Failed  int
}

// Prewarmer loads a model in the background while scraping runs.
type Prewarmer interface {
	Preload(ctx context.Context, model string) error
	AlwaysResident() bool
}

// SourceExtractor turns a URL into a Source.
type SourceExtractor interface {
	Extract(ctx context.Context, url string) (*Source, error)
}

// Config holds pool tuning.
type Config struct {
	QuickURLs   int
	DeepURLs    int
	DeepTarget  int
	MaxWorkers  int
	TaskTimeout time.Duration
}

// DefaultConfig returns the standard pool tuning.
func DefaultConfig() Config {
	return Config{
		QuickURLs:   3,
		DeepURLs:    7,
		DeepTarget:  5,
		MaxWorkers:  5,
		TaskTimeout: 10 * time.Second,
	}
}

// Pool scrapes URL lists with bounded parallelism.
type Pool struct {
	cfg       Config
	extractor SourceExtractor
	prewarmer Prewarmer
	model     string
}

// NewPool creates a pool. prewarmer may be nil; when set and the backend
// is not always resident, the model is pre-warmed while scraping runs.
func NewPool(cfg Config, extractor SourceExtractor, prewarmer Prewarmer, model string) *Pool {
	if cfg.QuickURLs == 0 {
		cfg = DefaultConfig()
	}
	return &Pool{cfg: cfg, extractor: extractor, prewarmer: prewarmer, model: model}
}

// Scrape processes URLs with min(MaxWorkers, len(urls)) workers, a
// per-task timeout, and completion-order collection. Deep mode stops
// scheduling once DeepTarget successes have arrived. Failures are
// tolerated and counted. onProgress, when non-nil, is invoked after
// every completed task.
func (p *Pool) Scrape(ctx context.Context, urls []string, mode Mode, onProgress func(Progress)) ([]Source, int) {
	timer := logging.StartTimer(logging.CategoryScrape, "Pool.Scrape")
	defer timer.StopWithInfo()

	limit := p.cfg.QuickURLs
	target := p.cfg.QuickURLs
	if mode == ModeDeep {
		limit = p.cfg.DeepURLs
		target = p.cfg.DeepTarget
	}
	if len(urls) < limit {
		limit = len(urls)
	}
	if target > limit {
		target = limit
	}
	urls = urls[:limit]

	if len(urls) == 0 {
		return nil, 0
	}

	logging.Scrape("Scraping %d URLs (mode=%s, target=%d successes)", len(urls), mode, target)

	prewarmDone := p.startPrewarm(ctx)

	workers := p.cfg.MaxWorkers
	if len(urls) < workers {
		workers = len(urls)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(workers))

	type outcome struct {
		source *Source
		url    string
	}
	results := make(chan outcome, len(urls))

	var wg sync.WaitGroup
	for _, url := range urls {
		if err := sem.Acquire(runCtx, 1); err != nil {
			break // run cancelled: enough successes or caller gave up
		}
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			defer sem.Release(1)

			// Derived from the caller's context, not runCtx: the
			// early-stop cancel only halts scheduling, tasks already
			// running drain normally.
			taskCtx, taskCancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
			defer taskCancel()

			source, err := p.extractor.Extract(taskCtx, url)
			if err != nil {
				logging.ScrapeWarn("Scrape failed for %s: %v", url, err)
				results <- outcome{url: url}
				return
			}
			logging.ScrapeDebug("Scraped %s: %d words in %v", url, source.WordCount, source.Elapsed)
			results <- outcome{source: source, url: url}
		}(url)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var sources []Source
	completed, failed := 0, 0
	for out := range results {
		completed++
		if out.source != nil {
			sources = append(sources, *out.source)
		} else {
			failed++
		}

		if onProgress != nil {
			onProgress(Progress{Current: completed, Total: len(urls), Failed: failed})
		}

		// Poll the pre-warm without blocking the collection loop.
		select {
		case <-prewarmDone:
			prewarmDone = nil
		default:
		}

		if mode == ModeDeep && len(sources) >= target {
			cancel() // stop scheduling, let in-flight tasks drain
		}
	}

	// Await the pre-warm once, after all scraping completed.
	if prewarmDone != nil {
		select {
		case <-prewarmDone:
		case <-ctx.Done():
		}
	}

	logging.Scrape("Scrape complete: %d sources, %d failed", len(sources), failed)
	return sources, failed
}

// startPrewarm kicks off a background model load and returns a channel
// closed when it finishes. Returns nil when no pre-warm is needed:
// always-resident backends keep their models loaded.
func (p *Pool) startPrewarm(ctx context.Context) chan struct{} {
	if p.prewarmer == nil || p.model == "" || p.prewarmer.AlwaysResident() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.prewarmer.Preload(ctx, p.model); err != nil {
			logging.ScrapeWarn("Model pre-warm failed: %v", err)
			return
		}
		logging.ScrapeDebug("Model %s pre-warmed during scraping", p.model)
	}()
	return done
}
