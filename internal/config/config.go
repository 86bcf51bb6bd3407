// Package config reads the gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lvcoi/deckproxy/internal/strategy"
)

const (
	DefaultPort           = 3002
	DefaultSearchCacheTTL = 10 * time.Minute
	DefaultRateLimitRPS   = 50
	DefaultRateLimitBurst = 100
	catalogOff            = "off"
)

var (
	DefaultInvidiousInstances = []string{
		"https://inv.nadeko.net",
		"https://invidious.nerdvpn.de",
		"https://yewtu.be",
	}
	DefaultPipedInstances = []string{
		"https://pipedapi.kavin.rocks",
		"https://pipedapi.adminforge.de",
	}
	DefaultCobaltInstances = []string{
		"https://api.cobalt.tools",
	}
)

// Config is the resolved process configuration. Credential material is not
// part of it; the extraction fallback reads it per invocation.
type Config struct {
	Addr     string
	CacheDir string

	YtDlpPath string

	InvidiousInstances []string
	PipedInstances     []string
	CobaltInstances    []string

	SearchStrategies []string
	FetchStrategies  []string

	// CatalogPath is empty when the catalog is disabled.
	CatalogPath    string
	RedisURL       string
	SearchCacheTTL time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	StaticDir string
	LogLevel  string
	LogFormat string
}

// Load builds a Config from lookup, which has the signature of os.LookupEnv.
func Load(lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	var errs []error
	cfg := Config{
		YtDlpPath:      "yt-dlp",
		SearchCacheTTL: DefaultSearchCacheTTL,
		RateLimitRPS:   DefaultRateLimitRPS,
		RateLimitBurst: DefaultRateLimitBurst,
		LogLevel:       "info",
		LogFormat:      "text",
	}

	port := DefaultPort
	if v := get("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 || p > 65535 {
			errs = append(errs, fmt.Errorf("PORT: invalid port %q", v))
		} else {
			port = p
		}
	}
	cfg.Addr = ":" + strconv.Itoa(port)

	cfg.CacheDir = get("CACHE_DIR")
	if cfg.CacheDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			errs = append(errs, fmt.Errorf("resolving working directory: %w", err))
		}
		cfg.CacheDir = filepath.Join(wd, "cache")
	}

	if v := get("YTDLP_PATH"); v != "" {
		cfg.YtDlpPath = v
	}

	cfg.InvidiousInstances = listOr(get("INVIDIOUS_INSTANCES"), DefaultInvidiousInstances)
	cfg.PipedInstances = listOr(get("PIPED_INSTANCES"), DefaultPipedInstances)
	cfg.CobaltInstances = listOr(get("COBALT_INSTANCES"), DefaultCobaltInstances)
	for name, list := range map[string][]string{
		"INVIDIOUS_INSTANCES": cfg.InvidiousInstances,
		"PIPED_INSTANCES":     cfg.PipedInstances,
		"COBALT_INSTANCES":    cfg.CobaltInstances,
	} {
		for _, base := range list {
			if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
				errs = append(errs, fmt.Errorf("%s: instance %q must be an http(s) URL", name, base))
			}
		}
	}

	cfg.SearchStrategies = listOr(strings.ToLower(get("SEARCH_STRATEGIES")), strategy.DefaultSearchOrder)
	cfg.FetchStrategies = listOr(strings.ToLower(get("FETCH_STRATEGIES")), strategy.DefaultFetchOrder)
	errs = append(errs, checkNames("SEARCH_STRATEGIES", cfg.SearchStrategies, searchNames)...)
	errs = append(errs, checkNames("FETCH_STRATEGIES", cfg.FetchStrategies, fetchNames)...)

	switch v := get("CATALOG_PATH"); {
	case strings.EqualFold(v, catalogOff):
		cfg.CatalogPath = ""
	case v == "":
		cfg.CatalogPath = filepath.Join(cfg.CacheDir, "catalog.db")
	default:
		cfg.CatalogPath = v
	}

	cfg.RedisURL = get("REDIS_URL")
	if v := get("SEARCH_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("SEARCH_CACHE_TTL: invalid duration %q", v))
		} else {
			cfg.SearchCacheTTL = d
		}
	}

	if v := get("RATE_LIMIT_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS: invalid rate %q", v))
		} else {
			cfg.RateLimitRPS = f
		}
	}
	if v := get("RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST: invalid burst %q", v))
		} else {
			cfg.RateLimitBurst = n
		}
	}

	cfg.StaticDir = get("STATIC_DIR")

	if v := strings.ToLower(get("LOG_LEVEL")); v != "" {
		if !validLevel(v) {
			errs = append(errs, fmt.Errorf("LOG_LEVEL: unknown level %q", v))
		} else {
			cfg.LogLevel = v
		}
	}
	if v := strings.ToLower(get("LOG_FORMAT")); v != "" {
		if v != "text" && v != "json" {
			errs = append(errs, fmt.Errorf("LOG_FORMAT: unknown format %q", v))
		} else {
			cfg.LogFormat = v
		}
	}

	return cfg, errors.Join(errs...)
}

var (
	searchNames = map[string]bool{strategy.NameInvidious: true, strategy.NamePiped: true, strategy.NameYouTube: true}
	fetchNames  = map[string]bool{
		strategy.NameCobalt:    true,
		strategy.NameInvidious: true,
		strategy.NamePiped:     true,
		strategy.NameYtDlp:     true,
		strategy.NameInnertube: true,
	}
)

func checkNames(key string, names []string, allowed map[string]bool) []error {
	var errs []error
	for _, n := range names {
		if !allowed[n] {
			errs = append(errs, fmt.Errorf("%s: unknown strategy %q", key, n))
		}
	}
	return errs
}

func validLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// listOr splits a comma-separated value, dropping blanks and trailing
// slashes, and falls back to def when nothing remains.
func listOr(raw string, def []string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimRight(strings.TrimSpace(part), "/")
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}
