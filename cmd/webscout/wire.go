package main

import (
	"fmt"

	"webscout/internal/assemble"
	"webscout/internal/cache"
	"webscout/internal/config"
	"webscout/internal/embedding"
	"webscout/internal/history"
	"webscout/internal/intent"
	"webscout/internal/llm"
	"webscout/internal/queryopt"
	"webscout/internal/rater"
	"webscout/internal/research"
	"webscout/internal/scrape"
	"webscout/internal/search"
)

// app bundles the wired pipeline for the CLI commands.
type app struct {
	backend  llm.Backend
	cache    *cache.Cache
	sessions *cache.SessionCache
	renderer *scrape.Renderer
	orch     *research.Orchestrator
}

// buildApp assembles the pipeline from configuration.
func buildApp(cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := llm.New(llm.Config{
		Backend: cfg.LLM.Backend,
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Timeout: cfg.GetLLMTimeout(),
	})
	if err != nil {
		return nil, err
	}

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.BaseURL,
		OllamaModel:    cfg.Embedding.Model,
		GeminiAPIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding engine: %w", err)
	}

	researchCache, err := cache.Open(cache.Options{
		DatabasePath: cfg.Cache.DatabasePath,
		Thresholds: cache.Thresholds{
			High:   cfg.Cache.HighThreshold,
			Medium: cfg.Cache.MediumThreshold,
		},
		RequestTimeout: cfg.GetCacheWorkerTimeout(),
	}, engine)
	if err != nil {
		return nil, err
	}

	var providers []search.Provider
	if cfg.Search.TavilyAPIKey != "" {
		providers = append(providers, search.NewTavily(cfg.Search.TavilyAPIKey))
	}
	if cfg.Search.BraveAPIKey != "" {
		providers = append(providers, search.NewBrave(cfg.Search.BraveAPIKey))
	}
	if cfg.Search.SearXNGBaseURL != "" {
		providers = append(providers, search.NewSearXNG(cfg.Search.SearXNGBaseURL))
	}
	fanout := search.NewFanout(providers, cfg.GetProviderTimeout(), cfg.Search.MaxPerProvider)

	var renderer *scrape.Renderer
	if cfg.Scrape.BrowserFallback {
		renderer = scrape.NewRenderer()
	}
	extractor := scrape.NewExtractor(cfg.Scrape.UserAgent, renderer)
	pool := scrape.NewPool(scrape.Config{
		QuickURLs:   cfg.Scrape.QuickURLs,
		DeepURLs:    cfg.Scrape.DeepURLs,
		DeepTarget:  cfg.Scrape.DeepTarget,
		MaxWorkers:  cfg.Scrape.MaxWorkers,
		TaskTimeout: cfg.GetScrapeTimeout(),
	}, extractor, backend, cfg.LLM.Model)

	utilityModel := cfg.UtilityModelName()

	var urlRater research.URLRater
	if cfg.Search.EnableRater {
		urlRater = rater.NewRater(backend, utilityModel)
	}

	sessions := cache.NewSessionCache()

	orch := research.New(orchestratorConfig(cfg), research.Deps{
		Backend:    backend,
		Gate:       research.NewGate(backend, utilityModel, cfg.Research.TriggerPhrases),
		Store:      researchCache,
		Sessions:   sessions,
		Searcher:   fanout,
		Scraper:    pool,
		Optimizer:  queryopt.NewOptimizer(backend, utilityModel),
		URLRater:   urlRater,
		Classifier: intent.NewClassifier(backend, utilityModel),
		Builder: assemble.NewBuilder(assemble.Budget{
			MaxRAGTokens:      cfg.Context.MaxRAGTokens,
			MaxWordsPerSource: cfg.Context.MaxWordsPerSource,
			CharsPerToken:     cfg.Context.CharsPerToken,
			ReserveTokens:     cfg.Context.ReserveTokens,
		}),
		Compressor: history.NewCompressor(history.Config{
			ThresholdFraction: cfg.History.ThresholdFraction,
			BlockSize:         cfg.History.BlockSize,
			MaxSummaries:      cfg.History.MaxSummaries,
			MinTurns:          cfg.History.MinTurns,
			CharsPerToken:     cfg.Context.CharsPerToken,
		}, backend, utilityModel),
	})

	return &app{
		backend:  backend,
		cache:    researchCache,
		sessions: sessions,
		renderer: renderer,
		orch:     orch,
	}, nil
}

// orchestratorConfig maps the tunable part of the file config onto the
// orchestrator. Also used when the config file changes on disk.
func orchestratorConfig(cfg *config.Config) research.Config {
	mode := scrape.ModeQuick
	if cfg.Research.DefaultMode == "deep" {
		mode = scrape.ModeDeep
	}
	return research.Config{
		Model:           cfg.LLM.Model,
		UtilityModel:    cfg.UtilityModelName(),
		Mode:            mode,
		MediumIsHit:     cfg.Cache.MediumIsHit,
		ContextOverride: cfg.LLM.ContextOverride,
	}
}

// close releases the app's resources.
func (a *app) close() {
	if a.renderer != nil {
		_ = a.renderer.Close()
	}
	a.cache.Close()
}
