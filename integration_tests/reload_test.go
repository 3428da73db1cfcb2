package integration_tests

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rubiojr/volunteer/pkg/config"
)

// TestConfigFileReload follows what serve does on a config change: the file
// watcher fires, the file is reloaded and the new search settings apply to
// the running pipeline.
func TestConfigFileReload(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(tempDir, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tempDir, "config"))
	configPath := filepath.Join(tempDir, "config.toml")

	cfg, err := config.GetDefaultConfig()
	if err != nil {
		t.Fatalf("Failed to build default config: %v", err)
	}
	if err := cfg.SaveConfig(configPath); err != nil {
		t.Fatalf("Failed to save initial config: %v", err)
	}

	env := newTestEnv(t)
	seedEvents(t, env)
	env.pipeline.SetConfig(cfg.SearchOptions())

	if resp := env.search(t, "zip=48105&radius=1000"); resp.Count != 4 {
		t.Fatalf("Expected 4 results before reload, got %d", resp.Count)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("Failed to create watcher: %v", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			t.Logf("Warning: failed to close watcher: %v", err)
		}
	}()
	if err := watcher.Add(configPath); err != nil {
		t.Fatalf("Failed to watch config: %v", err)
	}

	cfg.Search.DefaultLimit = 2
	if err := cfg.SaveConfig(configPath); err != nil {
		t.Fatalf("Failed to save updated config: %v", err)
	}

	select {
	case event := <-watcher.Events:
		if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
			t.Logf("Unexpected first event %s, reloading anyway", event.Op)
		}
	case err := <-watcher.Errors:
		t.Fatalf("Watcher error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the config change notification")
	}

	newCfg, err := config.LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}
	env.pipeline.SetConfig(newCfg.SearchOptions())

	resp := env.search(t, "zip=48105&radius=1000")
	if resp.Count != 2 {
		t.Errorf("Expected the reloaded default limit of 2, got %d", resp.Count)
	}
	if resp.Events[0].Name != "Food bank sorting" {
		t.Errorf("Expected nearest event first after reload, got %s", resp.Events[0].Name)
	}
}
