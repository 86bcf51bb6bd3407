// Package app wires the gateway: strategies, cache, catalog, search cache,
// event hub and metrics, plus the prefetch worker pool.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lvcoi/deckproxy/internal/cache"
	"github.com/lvcoi/deckproxy/internal/catalog"
	"github.com/lvcoi/deckproxy/internal/config"
	"github.com/lvcoi/deckproxy/internal/downloader"
	"github.com/lvcoi/deckproxy/internal/metrics"
	"github.com/lvcoi/deckproxy/internal/mirror"
	"github.com/lvcoi/deckproxy/internal/searchcache"
	"github.com/lvcoi/deckproxy/internal/strategy"
	"github.com/lvcoi/deckproxy/internal/ws"
)

// Gateway holds every long-lived component of the process.
type Gateway struct {
	Config   config.Config
	Store    *cache.Store
	Catalog  *catalog.Catalog
	Hub      *ws.Hub
	Metrics  *metrics.Metrics
	Runner   *strategy.Runner
	Fetcher  *Fetcher
	Searcher *Searcher
	Started  time.Time

	logger *slog.Logger
	cancel context.CancelFunc
	redis  *searchcache.Redis
}

// New builds a Gateway. Fetches and the event hub run until ctx is cancelled
// or Close is called.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := cache.New(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	if removed, err := store.RemoveStaleTemps(); err != nil {
		logger.Warn("removing stale temp files failed", slog.Any("error", err))
	} else if removed > 0 {
		logger.Info("removed stale temp files", slog.Int("count", removed))
	}

	base, cancel := context.WithCancel(ctx)
	g := &Gateway{
		Config:  cfg,
		Store:   store,
		Hub:     ws.NewHub(logger),
		Metrics: metrics.New(),
		Started: time.Now(),
		logger:  logger,
		cancel:  cancel,
	}

	if cfg.CatalogPath != "" {
		cat, err := catalog.Open(cfg.CatalogPath)
		if err != nil {
			cancel()
			return nil, err
		}
		g.Catalog = cat
		g.backfillCatalog()
	}

	var searchCache SearchCache
	if cfg.RedisURL != "" {
		rc, err := searchcache.NewRedis(ctx, cfg.RedisURL, cfg.SearchCacheTTL)
		if err != nil {
			logger.Warn("search cache disabled", slog.Any("error", err))
		} else {
			g.redis = rc
			searchCache = rc
		}
	}

	available := BuildStrategies(cfg, store, logger)
	searchers, err := strategy.Select(strategy.OpSearch, cfg.SearchStrategies, available)
	if err != nil {
		g.Close()
		return nil, err
	}
	fetchers, err := strategy.Select(strategy.OpFetch, cfg.FetchStrategies, available)
	if err != nil {
		g.Close()
		return nil, err
	}
	g.Runner = &strategy.Runner{
		Searchers: searchers,
		Fetchers:  fetchers,
		Logger:    logger,
		Observe:   g.observe,
	}

	fetchOpts := FetcherOptions{
		Hub:     g.Hub,
		Metrics: g.Metrics,
		Probe:   downloader.ProbeContainer,
		Logger:  logger,
	}
	if g.Catalog != nil {
		fetchOpts.Catalog = g.Catalog
	}
	g.Fetcher = NewFetcher(base, store, g.Runner, fetchOpts)
	g.Searcher = NewSearcher(g.Runner, searchCache, logger)

	go g.Hub.Run(base)
	return g, nil
}

// BuildStrategies returns every strategy the configuration can provide,
// keyed by name.
func BuildStrategies(cfg config.Config, store *cache.Store, logger *slog.Logger) map[string]strategy.Strategy {
	client := downloader.NewClient()
	invidious := &mirror.Invidious{Instances: cfg.InvidiousInstances, Client: client, Logger: logger}
	piped := &mirror.Piped{Instances: cfg.PipedInstances, Client: client, Logger: logger}
	cobalt := &mirror.Cobalt{Instances: cfg.CobaltInstances, Client: client, Logger: logger}
	extractor := &downloader.Extractor{Binary: cfg.YtDlpPath, CacheDir: store.Dir(), Logger: logger}

	return map[string]strategy.Strategy{
		strategy.NameInvidious: strategy.Mirror(strategy.NameInvidious, invidious, invidious, client),
		strategy.NamePiped:     strategy.Mirror(strategy.NamePiped, piped, piped, client),
		strategy.NameCobalt:    strategy.Mirror(strategy.NameCobalt, nil, cobalt, client),
		strategy.NameYouTube:   strategy.SearchOnly(strategy.NameYouTube, &mirror.Scraper{Logger: logger}),
		strategy.NameYtDlp:     strategy.ExtractionTool(extractor),
		strategy.NameInnertube: strategy.Innertube(downloader.NewInnertubeFinder(downloader.MetadataTimeout), client),
	}
}

func (g *Gateway) observe(o strategy.Outcome) {
	g.Metrics.StrategyOutcome(o.Op, o.Strategy, o.Result, o.Elapsed)
	if o.Op == strategy.OpFetch && o.Result == strategy.OutcomeError {
		g.Hub.BroadcastFetch(ws.FetchPayload{
			VideoID:  o.Subject,
			Stage:    ws.StageStrategyFailed,
			Strategy: o.Strategy,
			Error:    o.Err.Error(),
		})
	}
}

// backfillCatalog indexes files published before the catalog existed.
func (g *Gateway) backfillCatalog() {
	entries, err := g.Store.List()
	if err != nil {
		g.logger.Warn("listing cache for catalog backfill failed", slog.Any("error", err))
		return
	}
	added := 0
	for _, e := range entries {
		ok, err := g.Catalog.Ensure(catalog.Entry{VideoID: e.ID, FileSize: e.Size, CreatedAt: e.ModTime.UTC()})
		if err != nil {
			g.logger.Warn("catalog backfill failed", slog.String("video_id", e.ID), slog.Any("error", err))
			continue
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		g.logger.Info("catalog backfilled", slog.Int("count", added))
	}
}

// Status is the payload of the status endpoint.
type Status struct {
	UptimeSeconds    int64    `json:"uptimeSeconds"`
	ActiveFetches    []string `json:"activeFetches"`
	CachedEntries    int      `json:"cachedEntries"`
	SearchStrategies []string `json:"searchStrategies"`
	FetchStrategies  []string `json:"fetchStrategies"`
	EventClients     int      `json:"eventClients"`
	SearchCache      bool     `json:"searchCache"`
	Catalog          bool     `json:"catalog"`
}

func (g *Gateway) Status() Status {
	st := Status{
		UptimeSeconds:    int64(time.Since(g.Started).Seconds()),
		ActiveFetches:    g.Fetcher.Active(),
		CachedEntries:    -1,
		SearchStrategies: strategy.Names(g.Runner.Searchers),
		FetchStrategies:  strategy.Names(g.Runner.Fetchers),
		EventClients:     g.Hub.ClientCount(),
		SearchCache:      g.redis != nil,
		Catalog:          g.Catalog != nil,
	}
	if g.Catalog != nil {
		if n, err := g.Catalog.Count(); err == nil {
			st.CachedEntries = n
		}
	} else if entries, err := g.Store.List(); err == nil {
		st.CachedEntries = len(entries)
	}
	return st
}

// Close cancels running fetches and releases the catalog and search cache.
func (g *Gateway) Close() error {
	g.cancel()
	var errs []error
	if g.Catalog != nil {
		if err := g.Catalog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing catalog: %w", err))
		}
	}
	if g.redis != nil {
		if err := g.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing search cache: %w", err))
		}
	}
	downloader.CloseIdleConnections()
	return errors.Join(errs...)
}
