package config

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "webscout" {
		t.Errorf("expected Name=webscout, got %s", cfg.Name)
	}
	if cfg.LLM.Backend != "ollama" {
		t.Errorf("expected Backend=ollama, got %s", cfg.LLM.Backend)
	}
	if cfg.Scrape.DeepURLs != 7 || cfg.Scrape.DeepTarget != 5 {
		t.Errorf("expected deep 7/5, got %d/%d", cfg.Scrape.DeepURLs, cfg.Scrape.DeepTarget)
	}
	if cfg.Cache.HighThreshold != 0.5 || cfg.Cache.MediumThreshold != 0.85 {
		t.Errorf("unexpected cache thresholds: %.2f/%.2f", cfg.Cache.HighThreshold, cfg.Cache.MediumThreshold)
	}
	if cfg.History.MinTurns <= cfg.History.BlockSize {
		t.Errorf("min_turns %d must exceed block_size %d", cfg.History.MinTurns, cfg.History.BlockSize)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	// Ensure no env vars interfere
	t.Setenv("TAVILY_API_KEY", "")
	t.Setenv("BRAVE_API_KEY", "")
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("WEBSCOUT_MODEL", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Backend = "vllm"
	cfg.LLM.BaseURL = "http://localhost:8000"
	cfg.Search.TavilyAPIKey = "tvly-test"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// YAML decodes an absent map as empty rather than nil.
	if diff := cmp.Diff(cfg, loaded, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("config changed across save/load (-saved +loaded):\n%s", diff)
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("BRAVE_API_KEY", "env-brave-key")
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")
	t.Setenv("WEBSCOUT_DB", "/tmp/alt.db")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Search.BraveAPIKey != "env-brave-key" {
		t.Errorf("expected Brave key from env, got %q", cfg.Search.BraveAPIKey)
	}
	if cfg.LLM.BaseURL != "http://gpu-box:11434" {
		t.Errorf("expected OLLAMA_HOST override, got %q", cfg.LLM.BaseURL)
	}
	if cfg.Embedding.BaseURL != "http://gpu-box:11434" {
		t.Errorf("expected embedding base URL to follow OLLAMA_HOST, got %q", cfg.Embedding.BaseURL)
	}
	if cfg.Cache.DatabasePath != "/tmp/alt.db" {
		t.Errorf("expected WEBSCOUT_DB override, got %q", cfg.Cache.DatabasePath)
	}
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load of missing file should return defaults, got error: %v", err)
	}
	if cfg.LLM.Backend != "ollama" {
		t.Errorf("expected default backend, got %s", cfg.LLM.Backend)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got: %v", err)
	}

	bad := DefaultConfig()
	bad.LLM.Backend = "llamacpp"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown backend")
	}

	bad = DefaultConfig()
	bad.Cache.HighThreshold = 0.9
	if err := bad.Validate(); err == nil {
		t.Error("expected error for inverted cache thresholds")
	}

	bad = DefaultConfig()
	bad.History.MinTurns = 4
	if err := bad.Validate(); err == nil {
		t.Error("expected error for min_turns <= block_size")
	}

	bad = DefaultConfig()
	bad.Scrape.DeepTarget = 9
	if err := bad.Validate(); err == nil {
		t.Error("expected error for deep_target > deep_urls")
	}
}

func TestConfig_UtilityModelFallback(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.UtilityModelName() != cfg.LLM.Model {
		t.Errorf("expected fallback to main model, got %s", cfg.UtilityModelName())
	}
	cfg.LLM.UtilityModel = "qwen3:4b"
	if cfg.UtilityModelName() != "qwen3:4b" {
		t.Errorf("expected utility model, got %s", cfg.UtilityModelName())
	}
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{DebugMode: false}
	if lc.IsCategoryEnabled("search") {
		t.Error("categories must be disabled when debug_mode is off")
	}

	lc = LoggingConfig{DebugMode: true, Categories: map[string]bool{"search": false}}
	if lc.IsCategoryEnabled("search") {
		t.Error("explicitly disabled category should be off")
	}
	if !lc.IsCategoryEnabled("cache") {
		t.Error("unlisted category should default to enabled")
	}
}
