package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"webscout/internal/assemble"
	"webscout/internal/cache"
	"webscout/internal/history"
	"webscout/internal/intent"
	"webscout/internal/llm"
	"webscout/internal/logging"
	"webscout/internal/rater"
	"webscout/internal/scrape"
	"webscout/internal/search"
)

// Phase names used in progress events.
const (
	PhaseCacheCheck = "cache_check"
	PhaseSearch     = "search"
	PhaseScrape     = "scrape"
	PhaseSynthesize = "synthesize"
)

// Searcher is the search fan-out contract.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, search.Stats, error)
}

// Scraper is the scraper pool contract.
type Scraper interface {
	Scrape(ctx context.Context, urls []string, mode scrape.Mode, onProgress func(scrape.Progress)) ([]scrape.Source, int)
}

// Store is the semantic cache contract.
type Store interface {
	Lookup(ctx context.Context, query string) *cache.Match
	Put(ctx context.Context, sessionID, query, answer string, meta cache.Metadata) (int64, error)
	UpdateDigest(ctx context.Context, entryID int64, digest string) error
	DeleteSession(ctx context.Context, sessionID string) (int64, error)
}

// QueryOptimizer rewrites the user text into a search query.
type QueryOptimizer interface {
	Optimize(ctx context.Context, userText string, turns []history.Turn) string
}

// URLRater pre-filters search results. Optional.
type URLRater interface {
	Rate(ctx context.Context, query string, results []search.Result) ([]rater.Rating, rater.Stats)
}

// IntentClassifier picks the generation temperature.
type IntentClassifier interface {
	Classify(ctx context.Context, query string) intent.Intent
}

// Compressor collapses long histories.
type Compressor interface {
	Compress(ctx context.Context, turns []history.Turn, contextLimit int) history.Result
}

// Config tunes the orchestrator.
type Config struct {
	Model           string
	UtilityModel    string
	Mode            scrape.Mode // quick or deep research
	MediumIsHit     bool        // reuse medium-confidence cache matches
	ContextOverride int         // user-forced context window, 0 = auto
}

// Orchestrator drives one research pipeline per chat turn. Turns for
// the same session are serialized; different sessions run freely in
// parallel.
type Orchestrator struct {
	cfgMu      sync.RWMutex
	cfg        Config
	backend    llm.Backend
	gate       *Gate
	store      Store
	sessions   *cache.SessionCache
	searcher   Searcher
	scraper    Scraper
	optimizer  QueryOptimizer
	urlRater   URLRater // nil disables rating
	classifier IntentClassifier
	builder    *assemble.Builder
	compressor Compressor

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Backend    llm.Backend
	Gate       *Gate
	Store      Store
	Sessions   *cache.SessionCache
	Searcher   Searcher
	Scraper    Scraper
	Optimizer  QueryOptimizer
	URLRater   URLRater
	Classifier IntentClassifier
	Builder    *assemble.Builder
	Compressor Compressor
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Mode == "" {
		cfg.Mode = scrape.ModeQuick
	}
	return &Orchestrator{
		cfg:        cfg,
		backend:    deps.Backend,
		gate:       deps.Gate,
		store:      deps.Store,
		sessions:   deps.Sessions,
		searcher:   deps.Searcher,
		scraper:    deps.Scraper,
		optimizer:  deps.Optimizer,
		urlRater:   deps.URLRater,
		classifier: deps.Classifier,
		builder:    deps.Builder,
		compressor: deps.Compressor,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Reconfigure swaps the tunable configuration. In-flight turns finish
// with the settings they started with; the next turn sees the update.
func (o *Orchestrator) Reconfigure(cfg Config) {
	if cfg.Mode == "" {
		cfg.Mode = scrape.ModeQuick
	}
	o.cfgMu.Lock()
	o.cfg = cfg
	o.cfgMu.Unlock()
}

func (o *Orchestrator) config() Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// Run executes one chat turn and returns its event stream. The channel
// is closed after the terminal Result or Failure event.
func (o *Orchestrator) Run(ctx context.Context, sessionID, userText string, hist []history.Turn) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)

		lock := o.sessionLock(sessionID)
		lock.Lock()
		defer lock.Unlock()

		o.runTurn(ctx, events, sessionID, userText, hist)
	}()
	return events
}

func (o *Orchestrator) sessionLock(sessionID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[sessionID] = lock
	}
	return lock
}

func (o *Orchestrator) runTurn(ctx context.Context, events chan<- Event, sessionID, userText string, hist []history.Turn) {
	timer := logging.StartTimer(logging.CategoryResearch, "runTurn")
	defer timer.StopWithInfo()
	start := time.Now()

	cached := o.sessions.Get(sessionID)

	decision, err := o.gate.Decide(ctx, userText, cached)
	if err != nil {
		events <- Debug{Message: fmt.Sprintf("decision classifier unavailable, answering directly: %v", err)}
	}
	events <- Debug{Message: "decision: " + string(decision)}

	switch decision {
	case DecisionOwnKnowledge:
		o.answerDirect(ctx, events, userText, hist, nil, start)
	case DecisionCacheFollowup:
		o.answerDirect(ctx, events, userText, hist, cached, start)
	case DecisionNewResearch:
		if _, err := o.store.DeleteSession(ctx, sessionID); err != nil {
			events <- Debug{Message: "stale cache cleanup failed: " + err.Error()}
		}
		o.sessions.Delete(sessionID)
		o.research(ctx, events, sessionID, userText, hist, false, o.config().Mode, start)
	case DecisionExplicitResearch:
		// The user demanded fresh data; even a perfect cache match
		// would be wrong to reuse, and the request earns deep mode.
		o.research(ctx, events, sessionID, userText, hist, true, scrape.ModeDeep, start)
	}
}

// research runs the full four-phase pipeline.
func (o *Orchestrator) research(ctx context.Context, events chan<- Event, sessionID, userText string, hist []history.Turn, skipCache bool, mode scrape.Mode, start time.Time) {
	logging.Research("Pipeline started (session=%s, mode=%s, skip_cache=%v)", sessionID, mode, skipCache)

	// Phase 1: cache check.
	if !skipCache {
		events <- Progress{Phase: PhaseCacheCheck}
		match := o.store.Lookup(ctx, userText)
		if match.Tier == cache.TierHigh || (match.Tier == cache.TierMedium && o.config().MediumIsHit) {
			events <- Debug{Message: fmt.Sprintf("cache hit (%s, distance %.3f)", match.Tier, match.Distance)}
			o.answerFromMatch(ctx, events, userText, hist, match, start)
			return
		}
		events <- Debug{Message: fmt.Sprintf("cache miss (distance %.3f)", match.Distance)}
	}

	// Phase 2: query optimization and search.
	events <- Progress{Phase: PhaseSearch}
	query := o.optimizer.Optimize(ctx, userText, hist)
	if query != userText {
		events <- Debug{Message: "search query: " + query}
	}

	results, stats, err := o.searcher.Search(ctx, query)
	if err != nil {
		events <- Failure{Err: fmt.Errorf("search failed: %w", err)}
		return
	}
	events <- Debug{Message: fmt.Sprintf("search: %d unique results, %d duplicates removed", stats.UniqueResults, stats.DuplicatesRemoved)}
	logging.ResearchDebug("Search returned %d unique results for %q", stats.UniqueResults, query)

	urls := o.orderURLs(ctx, events, query, results)

	// Phase 3: scrape.
	var sources []scrape.Source
	failed := 0
	if len(urls) > 0 {
		sources, failed = o.scraper.Scrape(ctx, urls, mode, func(p scrape.Progress) {
			events <- Progress{Phase: PhaseScrape, Current: p.Current, Total: p.Total, Failed: p.Failed}
		})
		events <- Progress{Clear: true}
	}
	if len(sources) == 0 && len(results) > 0 {
		// Abstract-only fallback: search snippets stand in for pages.
		events <- Debug{Message: fmt.Sprintf("all %d scrapes failed, falling back to search snippets", failed)}
		sources = snippetSources(results)
	}

	// Phase 4: synthesize.
	events <- Progress{Phase: PhaseSynthesize}
	prior := o.priorSummaries(sessionID)
	contextText := o.builder.Build(userText, sources, prior)

	answer, hist, metrics, err := o.generate(ctx, events, contextText, userText, hist)
	if err != nil {
		events <- Failure{Err: err}
		return
	}

	o.persist(ctx, events, sessionID, userText, answer, sources)

	events <- Result{
		Answer:          answer,
		History:         appendTurn(hist, userText, answer),
		Elapsed:         time.Since(start),
		TimeToFirst:     metrics.TimeToFirst,
		TokensPerSecond: metrics.TokensPerSecond,
	}
}

// orderURLs applies the optional rating pre-filter; without it the
// search merge order stands.
func (o *Orchestrator) orderURLs(ctx context.Context, events chan<- Event, query string, results []search.Result) []string {
	if o.urlRater == nil || len(results) == 0 {
		urls := make([]string, len(results))
		for i, r := range results {
			urls[i] = r.URL
		}
		return urls
	}

	ratings, stats := o.urlRater.Rate(ctx, query, results)
	events <- Debug{Message: fmt.Sprintf("rated %d URLs (%.1f tok/s)", len(ratings), stats.AvgTokensPerSec)}
	urls := make([]string, len(ratings))
	for i, r := range ratings {
		urls[i] = r.URL
	}
	return urls
}

// answerDirect answers from the model's own knowledge, optionally
// grounded by the session's prior research.
func (o *Orchestrator) answerDirect(ctx context.Context, events chan<- Event, userText string, hist []history.Turn, cached *cache.Research, start time.Time) {
	content := userText
	if cached != nil {
		content = followupContext(cached) + "\nQuestion: " + userText
	}

	answer, hist, metrics, err := o.generate(ctx, events, content, userText, hist)
	if err != nil {
		events <- Failure{Err: err}
		return
	}

	events <- Result{
		Answer:          answer,
		History:         appendTurn(hist, userText, answer),
		Elapsed:         time.Since(start),
		TimeToFirst:     metrics.TimeToFirst,
		TokensPerSecond: metrics.TokensPerSecond,
	}
}

// answerFromMatch regenerates an answer for the new question from a
// semantic cache entry. The cached sources are reused; the answer is
// not replayed verbatim.
func (o *Orchestrator) answerFromMatch(ctx context.Context, events chan<- Event, userText string, hist []history.Turn, match *cache.Match, start time.Time) {
	var sb strings.Builder
	sb.WriteString("=== Previously researched ===\n")
	sb.WriteString("Original question: ")
	sb.WriteString(match.Entry.Query)
	sb.WriteString("\n\n")
	sb.WriteString(match.Entry.Answer)
	sb.WriteString("\n")
	for _, u := range match.Entry.Metadata.URLs {
		sb.WriteString("Source: ")
		sb.WriteString(u)
		sb.WriteString("\n")
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(userText)

	answer, hist, metrics, err := o.generate(ctx, events, sb.String(), userText, hist)
	if err != nil {
		events <- Failure{Err: err}
		return
	}

	events <- Result{
		Answer:          answer,
		History:         appendTurn(hist, userText, answer),
		Elapsed:         time.Since(start),
		TimeToFirst:     metrics.TimeToFirst,
		TokensPerSecond: metrics.TokensPerSecond,
	}
}

// generate compresses history, sizes the context window against the
// freshly queried model limit, and streams the answer. The returned
// history is the compressed form when compression ran, so callers
// carry summary turns forward instead of re-compressing every turn.
// userContent is the final user message (question plus any assembled
// context); userText is the bare question, used for intent
// classification.
func (o *Orchestrator) generate(ctx context.Context, events chan<- Event, userContent, userText string, hist []history.Turn) (string, []history.Turn, *llm.Response, error) {
	cfg := o.config()
	limit, err := o.backend.ContextLimit(ctx, cfg.Model)
	if err != nil {
		events <- Debug{Message: "model limit query failed: " + err.Error()}
		limit = 0
	}

	if limit > 0 {
		compressed := o.compressor.Compress(ctx, hist, limit)
		if compressed.State == history.StateComplete {
			events <- Debug{Message: fmt.Sprintf("history compressed: ~%d -> ~%d tokens", compressed.TokensBefore, compressed.TokensAfter)}
			hist = compressed.History
		} else if compressed.State == history.StateFailed {
			events <- Debug{Message: "history compression failed, continuing uncompressed"}
		}
	}

	messages := append(history.Render(hist), llm.Message{Role: "user", Content: userContent})

	temperature := o.classifier.Classify(ctx, userText).Temperature()
	window := assemble.WindowSize(messages, limit, cfg.ContextOverride)

	stream, err := o.backend.ChatStream(ctx, cfg.Model, messages, llm.Options{
		Temperature: temperature,
		NumCtx:      window,
	})
	if err != nil {
		return "", hist, nil, fmt.Errorf("generation failed to start: %w", err)
	}

	var answer strings.Builder
	var metrics llm.Response
	first := true
	genStart := time.Now()

	for chunk := range stream {
		if chunk.Err != nil {
			return answer.String(), hist, &metrics, fmt.Errorf("generation failed: %w", chunk.Err)
		}
		if chunk.Text != "" {
			if first {
				first = false
				metrics.TimeToFirst = time.Since(genStart)
				events <- Debug{Message: fmt.Sprintf("first token after %v", metrics.TimeToFirst.Round(time.Millisecond))}
			}
			answer.WriteString(chunk.Text)
			events <- Content{Text: chunk.Text}
		}
		if chunk.Done && chunk.Metrics != nil {
			ttft := metrics.TimeToFirst
			metrics = *chunk.Metrics
			if metrics.TimeToFirst == 0 {
				metrics.TimeToFirst = ttft
			}
		}
	}

	if answer.Len() == 0 {
		return "", hist, &metrics, fmt.Errorf("%w: empty generation", llm.ErrConnection)
	}
	return answer.String(), hist, &metrics, nil
}

// persist stores the research for future cache hits and follow-ups,
// then requests a digest in the background. Neither may affect the
// already-delivered answer.
func (o *Orchestrator) persist(ctx context.Context, events chan<- Event, sessionID, userText, answer string, sources []scrape.Source) {
	urls := make([]string, 0, len(sources))
	refs := make([]cache.SourceRef, 0, len(sources))
	for _, s := range sources {
		urls = append(urls, s.URL)
		refs = append(refs, cache.SourceRef{URL: s.URL, Title: s.Title})
	}

	o.sessions.Set(sessionID, cache.Research{
		Query:     userText,
		Answer:    answer,
		Sources:   refs,
		CreatedAt: time.Now(),
	})

	entryID, err := o.store.Put(ctx, sessionID, userText, answer, cache.BuildMetadata(urls))
	if err != nil {
		events <- Debug{Message: "cache store failed: " + err.Error()}
		return
	}

	go func() {
		digestCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		digest, err := cache.GenerateDigest(digestCtx, o.backend, o.config().UtilityModel, answer)
		if err != nil {
			logging.CacheDebug("Digest generation failed: %v", err)
			return
		}
		if err := o.store.UpdateDigest(digestCtx, entryID, digest); err != nil {
			logging.CacheDebug("Digest update failed: %v", err)
			return
		}
		if research := o.sessions.Get(sessionID); research != nil && research.Query == userText {
			research.Summary = digest
			o.sessions.Set(sessionID, *research)
		}
	}()
}

func (o *Orchestrator) priorSummaries(sessionID string) []string {
	cached := o.sessions.Get(sessionID)
	if cached == nil {
		return nil
	}
	if cached.Summary != "" {
		return []string{cached.Summary}
	}
	return nil
}

// followupContext frames the session's prior research plus the new
// question for cached follow-ups.
func followupContext(cached *cache.Research) string {
	var sb strings.Builder
	sb.WriteString("=== Earlier research in this conversation ===\n")
	sb.WriteString("Question: ")
	sb.WriteString(cached.Query)
	sb.WriteString("\n\n")
	sb.WriteString(cached.Answer)
	sb.WriteString("\n")
	for _, src := range cached.Sources {
		sb.WriteString("Source: ")
		sb.WriteString(src.Title)
		sb.WriteString(" (")
		sb.WriteString(src.URL)
		sb.WriteString(")\n")
	}
	return sb.String()
}

// snippetSources turns search results into thin sources when every
// scrape failed.
func snippetSources(results []search.Result) []scrape.Source {
	sources := make([]scrape.Source, 0, len(results))
	for _, r := range results {
		if r.Snippet == "" {
			continue
		}
		sources = append(sources, scrape.Source{
			URL:       r.URL,
			Title:     r.Title,
			Content:   r.Snippet,
			WordCount: len(strings.Fields(r.Snippet)),
		})
	}
	return sources
}

func appendTurn(hist []history.Turn, userText, answer string) []history.Turn {
	updated := make([]history.Turn, len(hist), len(hist)+1)
	copy(updated, hist)
	return append(updated, history.Turn{
		User:      userText,
		Assistant: answer,
		Timestamp: time.Now(),
	})
}
