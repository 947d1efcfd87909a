package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	t.Setenv("WEBSCOUT_DB", "")
	t.Setenv("WEBSCOUT_MODEL", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Research.DefaultMode = "quick"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	changed := make(chan *Config, 1)
	stop, err := Watch(path, func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer stop()

	cfg.Research.DefaultMode = "deep"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	select {
	case c := <-changed:
		if c.Research.DefaultMode != "deep" {
			t.Errorf("reloaded config stale: mode %q", c.Research.DefaultMode)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed after config write")
	}
}

func TestWatch_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	changed := make(chan *Config, 1)
	stop, err := Watch(path, func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	}, nil)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case <-changed:
		t.Error("sibling file write must not trigger a reload")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatch_ReportsLoadErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	errs := make(chan error, 1)
	stop, err := Watch(path, func(c *Config) {
		t.Error("broken config must not reach onChange")
	}, func(e error) {
		select {
		case errs <- e:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer stop()

	if err := os.WriteFile(path, []byte("{not yaml"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	select {
	case <-errs:
	case <-time.After(3 * time.Second):
		t.Fatal("no load error reported for broken config")
	}
}
