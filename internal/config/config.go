package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all webscout configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM backend configuration
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Search providers
	Search SearchConfig `yaml:"search"`

	// Scraper pool
	Scrape ScrapeConfig `yaml:"scrape"`

	// Semantic research cache
	Cache CacheConfig `yaml:"cache"`

	// Context assembly and window sizing
	Context ContextConfig `yaml:"context"`

	// Conversation history compression
	History HistoryConfig `yaml:"history"`

	// Research pipeline
	Research ResearchConfig `yaml:"research"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the inference backend.
type LLMConfig struct {
	Backend       string `yaml:"backend"`        // ollama, vllm, tabbyapi
	BaseURL       string `yaml:"base_url"`       // backend HTTP endpoint
	Model         string `yaml:"model"`          // main answer model
	UtilityModel  string `yaml:"utility_model"`  // small model for gate/intent/query work; empty = main model
	APIKey        string `yaml:"api_key"`        // for OpenAI-compatible backends
	Timeout       string `yaml:"timeout"`
	ContextOverride int  `yaml:"context_override"` // >0 forces num_ctx, bypassing the sizer heuristic
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider string `yaml:"provider"` // ollama, gemini
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

// SearchConfig configures web search providers.
type SearchConfig struct {
	TavilyAPIKey    string `yaml:"tavily_api_key"`
	BraveAPIKey     string `yaml:"brave_api_key"`
	SearXNGBaseURL  string `yaml:"searxng_base_url"`
	MaxPerProvider  int    `yaml:"max_per_provider"` // result cap per provider
	ProviderTimeout string `yaml:"provider_timeout"` // per-provider deadline in the fan-out
	EnableRater     bool   `yaml:"enable_rater"`     // LLM relevance rating of merged results
}

// ScrapeConfig configures the scraper pool.
type ScrapeConfig struct {
	QuickURLs       int    `yaml:"quick_urls"`       // URLs attempted in quick mode
	DeepURLs        int    `yaml:"deep_urls"`        // URLs attempted in deep mode
	DeepTarget      int    `yaml:"deep_target"`      // successes that end deep mode early
	MaxWorkers      int    `yaml:"max_workers"`      // upper bound; effective workers = min(this, len(urls))
	TaskTimeout     string `yaml:"task_timeout"`     // per-URL deadline
	UserAgent       string `yaml:"user_agent"`
	BrowserFallback bool   `yaml:"browser_fallback"` // headless render for script-heavy pages
}

// CacheConfig configures the semantic research cache.
type CacheConfig struct {
	DatabasePath    string  `yaml:"database_path"`
	HighThreshold   float64 `yaml:"high_threshold"`   // cosine distance below this = high confidence
	MediumThreshold float64 `yaml:"medium_threshold"` // below this = medium confidence
	MediumIsHit     bool    `yaml:"medium_is_hit"`    // treat medium confidence as a hit
	WorkerTimeout   string  `yaml:"worker_timeout"`   // per-request deadline on the store worker
}

// ContextConfig configures context assembly and window sizing.
type ContextConfig struct {
	MaxRAGTokens      int `yaml:"max_rag_tokens"`       // budget for assembled source context
	MaxWordsPerSource int `yaml:"max_words_per_source"` // truncation point for long sources
	CharsPerToken     int `yaml:"chars_per_token"`      // token estimation divisor
	ReserveTokens     int `yaml:"reserve_tokens"`       // held back from the RAG budget
}

// HistoryConfig configures conversation history compression.
type HistoryConfig struct {
	ThresholdFraction float64 `yaml:"threshold_fraction"` // of the model context limit
	BlockSize         int     `yaml:"block_size"`         // turns compressed per pass
	MaxSummaries      int     `yaml:"max_summaries"`      // FIFO cap on summary turns
	MinTurns          int     `yaml:"min_turns"`          // below this, never compress
}

// ResearchConfig configures the research pipeline.
type ResearchConfig struct {
	TriggerPhrases []string `yaml:"trigger_phrases"` // explicit research triggers, matched case-insensitively
	DefaultMode    string   `yaml:"default_mode"`    // quick or deep
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "webscout",
		Version: "1.0.0",

		LLM: LLMConfig{
			Backend: "ollama",
			BaseURL: "http://localhost:11434",
			Model:   "qwen3:14b",
			Timeout: "120s",
		},

		Embedding: EmbeddingConfig{
			Provider: "ollama",
			BaseURL:  "http://localhost:11434",
			Model:    "nomic-embed-text",
		},

		Search: SearchConfig{
			MaxPerProvider:  10,
			ProviderTimeout: "15s",
			EnableRater:     true,
		},

		Scrape: ScrapeConfig{
			QuickURLs:       3,
			DeepURLs:        7,
			DeepTarget:      5,
			MaxWorkers:      5,
			TaskTimeout:     "10s",
			UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			BrowserFallback: false,
		},

		Cache: CacheConfig{
			DatabasePath:    "data/webscout.db",
			HighThreshold:   0.5,
			MediumThreshold: 0.85,
			MediumIsHit:     true,
			WorkerTimeout:   "10s",
		},

		Context: ContextConfig{
			MaxRAGTokens:      20000,
			MaxWordsPerSource: 2000,
			CharsPerToken:     4,
			ReserveTokens:     1000,
		},

		History: HistoryConfig{
			ThresholdFraction: 0.7,
			BlockSize:         6,
			MaxSummaries:      10,
			MinTurns:          10,
		},

		Research: ResearchConfig{
			TriggerPhrases: []string{
				"search the web",
				"research this",
				"look this up",
				"web search",
				"do a deep research",
			},
			DefaultMode: "deep",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		c.Search.TavilyAPIKey = key
	}
	if key := os.Getenv("BRAVE_API_KEY"); key != "" {
		c.Search.BraveAPIKey = key
	}
	if url := os.Getenv("SEARXNG_URL"); url != "" {
		c.Search.SearXNGBaseURL = url
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.APIKey = key
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.LLM.BaseURL = host
		if c.Embedding.Provider == "ollama" {
			c.Embedding.BaseURL = host
		}
	}
	if path := os.Getenv("WEBSCOUT_DB"); path != "" {
		c.Cache.DatabasePath = path
	}
	if model := os.Getenv("WEBSCOUT_MODEL"); model != "" {
		c.LLM.Model = model
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetProviderTimeout returns the per-provider search deadline.
func (c *Config) GetProviderTimeout() time.Duration {
	d, err := time.ParseDuration(c.Search.ProviderTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetScrapeTimeout returns the per-URL scrape deadline.
func (c *Config) GetScrapeTimeout() time.Duration {
	d, err := time.ParseDuration(c.Scrape.TaskTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetCacheWorkerTimeout returns the cache worker request deadline.
func (c *Config) GetCacheWorkerTimeout() time.Duration {
	d, err := time.ParseDuration(c.Cache.WorkerTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// ValidBackends lists all supported inference backends.
var ValidBackends = []string{"ollama", "vllm", "tabbyapi"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validBackend := false
	for _, b := range ValidBackends {
		if c.LLM.Backend == b {
			validBackend = true
			break
		}
	}
	if !validBackend {
		return fmt.Errorf("invalid LLM backend: %s (valid: %v)", c.LLM.Backend, ValidBackends)
	}

	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url not configured")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model not configured")
	}

	if c.Cache.HighThreshold <= 0 || c.Cache.HighThreshold >= c.Cache.MediumThreshold {
		return fmt.Errorf("cache thresholds must satisfy 0 < high < medium (got high=%.2f medium=%.2f)",
			c.Cache.HighThreshold, c.Cache.MediumThreshold)
	}

	if c.History.MinTurns <= c.History.BlockSize {
		return fmt.Errorf("history.min_turns (%d) must exceed history.block_size (%d)",
			c.History.MinTurns, c.History.BlockSize)
	}

	if c.Scrape.DeepTarget > c.Scrape.DeepURLs {
		return fmt.Errorf("scrape.deep_target (%d) cannot exceed scrape.deep_urls (%d)",
			c.Scrape.DeepTarget, c.Scrape.DeepURLs)
	}

	return nil
}

// UtilityModel returns the model used for small classification calls.
func (c *Config) UtilityModelName() string {
	if c.LLM.UtilityModel != "" {
		return c.LLM.UtilityModel
	}
	return c.LLM.Model
}

// HasSearchProvider reports whether at least one provider is configured.
func (c *Config) HasSearchProvider() bool {
	return c.Search.TavilyAPIKey != "" || c.Search.BraveAPIKey != "" || c.Search.SearXNGBaseURL != ""
}
