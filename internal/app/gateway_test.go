package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lvcoi/deckproxy/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cache")
	cfg, err := config.Load(func(key string) (string, bool) {
		switch key {
		case "CACHE_DIR":
			return dir, true
		case "INVIDIOUS_INSTANCES", "PIPED_INSTANCES", "COBALT_INSTANCES":
			return "http://127.0.0.1:1", true
		case "YTDLP_PATH":
			return filepath.Join(dir, "missing-yt-dlp"), true
		}
		return "", false
	})
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestNewGatewayBackfillsCatalogAndCleansTemps(t *testing.T) {
	cfg := testConfig(t)
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.CacheDir, "old.mp3"), []byte("12345"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.CacheDir, "crashed.download"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	g, err := New(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()

	if _, err := os.Stat(filepath.Join(cfg.CacheDir, "crashed.download")); !os.IsNotExist(err) {
		t.Fatalf("stale temp file survived")
	}
	entry, err := g.Catalog.Get("old")
	if err != nil || entry.FileSize != 5 {
		t.Fatalf("backfill missing: %+v, %v", entry, err)
	}

	st := g.Status()
	if st.CachedEntries != 1 || !st.Catalog || st.SearchCache {
		t.Fatalf("unexpected status %+v", st)
	}
	if len(st.FetchStrategies) != 4 || st.FetchStrategies[0] != "cobalt" || st.SearchStrategies[2] != "youtube" {
		t.Fatalf("unexpected strategy order %+v", st)
	}
}

func TestNewGatewayWithoutCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.CatalogPath = ""
	g, err := New(context.Background(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer g.Close()
	if g.Catalog != nil {
		t.Fatalf("catalog opened although disabled")
	}
	if st := g.Status(); st.CachedEntries != 0 || st.Catalog {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestBuildStrategiesCoversEveryName(t *testing.T) {
	cfg := testConfig(t)
	store := newTestStore(t)
	available := BuildStrategies(cfg, store, quietLogger())
	for _, name := range []string{"invidious", "piped", "cobalt", "youtube", "ytdlp", "innertube"} {
		if _, ok := available[name]; !ok {
			t.Fatalf("strategy %q missing", name)
		}
	}
	if available["cobalt"].Search != nil || available["youtube"].FetchAudio != nil {
		t.Fatalf("capabilities wired to the wrong strategies")
	}
}
