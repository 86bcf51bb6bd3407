package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{"CACHE_DIR": "/data/cache"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":3002" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if cfg.CatalogPath != filepath.Join("/data/cache", "catalog.db") {
		t.Fatalf("unexpected catalog path %q", cfg.CatalogPath)
	}
	if strings.Join(cfg.SearchStrategies, ",") != "invidious,piped,youtube" {
		t.Fatalf("unexpected search order %v", cfg.SearchStrategies)
	}
	if strings.Join(cfg.FetchStrategies, ",") != "cobalt,invidious,piped,ytdlp" {
		t.Fatalf("unexpected fetch order %v", cfg.FetchStrategies)
	}
	if cfg.SearchCacheTTL != 10*time.Minute || cfg.RateLimitRPS != 50 || cfg.RateLimitBurst != 100 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.InvidiousInstances) == 0 || len(cfg.PipedInstances) == 0 || len(cfg.CobaltInstances) == 0 {
		t.Fatalf("default instances missing")
	}
	if cfg.YtDlpPath != "yt-dlp" || cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadDefaultCacheDirUnderWorkdir(t *testing.T) {
	cfg, err := Load(lookupFrom(nil))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if filepath.Base(cfg.CacheDir) != "cache" || !filepath.IsAbs(cfg.CacheDir) {
		t.Fatalf("unexpected cache dir %q", cfg.CacheDir)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(lookupFrom(map[string]string{
		"PORT":                "8080",
		"CACHE_DIR":           "/c",
		"INVIDIOUS_INSTANCES": " https://a.example/ , ,https://b.example",
		"FETCH_STRATEGIES":    "Innertube, ytdlp",
		"CATALOG_PATH":        "OFF",
		"REDIS_URL":           "redis://localhost:6379/1",
		"SEARCH_CACHE_TTL":    "90s",
		"RATE_LIMIT_RPS":      "0",
		"LOG_LEVEL":           "DEBUG",
		"LOG_FORMAT":          "json",
		"YTDLP_PATH":          "/usr/local/bin/yt-dlp",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr)
	}
	if strings.Join(cfg.InvidiousInstances, ",") != "https://a.example,https://b.example" {
		t.Fatalf("unexpected instances %v", cfg.InvidiousInstances)
	}
	if strings.Join(cfg.FetchStrategies, ",") != "innertube,ytdlp" {
		t.Fatalf("unexpected fetch order %v", cfg.FetchStrategies)
	}
	if cfg.CatalogPath != "" {
		t.Fatalf("catalog not disabled: %q", cfg.CatalogPath)
	}
	if cfg.SearchCacheTTL != 90*time.Second || cfg.RateLimitRPS != 0 || cfg.RedisURL == "" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.YtDlpPath != "/usr/local/bin/yt-dlp" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
}

func TestLoadCollectsErrors(t *testing.T) {
	_, err := Load(lookupFrom(map[string]string{
		"PORT":              "70000",
		"SEARCH_STRATEGIES": "invidious,cobalt",
		"FETCH_STRATEGIES":  "bogus",
		"PIPED_INSTANCES":   "ftp://nope",
		"SEARCH_CACHE_TTL":  "soon",
		"LOG_LEVEL":         "trace",
	}))
	if err == nil {
		t.Fatalf("expected configuration errors")
	}
	for _, want := range []string{"PORT", `SEARCH_STRATEGIES: unknown strategy "cobalt"`, `FETCH_STRATEGIES: unknown strategy "bogus"`, "PIPED_INSTANCES", "SEARCH_CACHE_TTL", "LOG_LEVEL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}
