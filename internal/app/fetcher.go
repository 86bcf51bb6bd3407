package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lvcoi/deckproxy/internal/cache"
	"github.com/lvcoi/deckproxy/internal/catalog"
	"github.com/lvcoi/deckproxy/internal/downloader"
	"github.com/lvcoi/deckproxy/internal/metrics"
	"github.com/lvcoi/deckproxy/internal/strategy"
	"github.com/lvcoi/deckproxy/internal/ws"
)

// Catalog is the subset of *catalog.Catalog the fetcher writes to.
type Catalog interface {
	Upsert(catalog.Entry) error
}

// FetchResult describes how a video ended up in the cache.
// Hit is set when the entry was already cached and Shared when the caller
// joined a fetch started by another request.
type FetchResult struct {
	VideoID  string
	Hit      bool
	Strategy string
	Source   string
	Bytes    int64
	Shared   bool
}

// Fetcher fills cache misses through the fetch strategy chain. Concurrent
// misses for one id share a single run. Runs use the fetcher's base context,
// not the caller's, so a disconnecting client still warms the cache.
type Fetcher struct {
	store   *cache.Store
	runner  *strategy.Runner
	catalog Catalog
	hub     *ws.Hub
	metrics *metrics.Metrics
	probe   func(path string) (string, error)
	logger  *slog.Logger

	base   context.Context
	group  singleflight.Group
	mu     sync.Mutex
	active map[string]time.Time
}

// FetcherOptions carries the optional collaborators of a Fetcher.
type FetcherOptions struct {
	Catalog Catalog
	Hub     *ws.Hub
	Metrics *metrics.Metrics
	Probe   func(path string) (string, error)
	Logger  *slog.Logger
}

func NewFetcher(base context.Context, store *cache.Store, runner *strategy.Runner, opts FetcherOptions) *Fetcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		store:   store,
		runner:  runner,
		catalog: opts.Catalog,
		hub:     opts.Hub,
		metrics: opts.Metrics,
		probe:   opts.Probe,
		logger:  logger,
		base:    base,
		active:  make(map[string]time.Time),
	}
}

// Ensure makes sure videoID is cached. If ctx ends first Ensure returns
// ctx.Err() while the shared fetch keeps running.
func (f *Fetcher) Ensure(ctx context.Context, videoID string) (FetchResult, error) {
	if !cache.ValidID(videoID) {
		return FetchResult{}, downloader.Wrap(downloader.CategoryInput, fmt.Errorf("invalid video id %q", videoID))
	}
	if f.store.Has(videoID) {
		f.metrics.CacheLookup(true)
		return FetchResult{VideoID: videoID, Hit: true}, nil
	}
	f.metrics.CacheLookup(false)

	ch := f.group.DoChan(videoID, func() (any, error) {
		return f.fetch(videoID)
	})
	select {
	case <-ctx.Done():
		return FetchResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return FetchResult{}, res.Err
		}
		out := res.Val.(FetchResult)
		out.Shared = res.Shared
		return out, nil
	}
}

// Active returns the ids being fetched, sorted.
func (f *Fetcher) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.active))
	for id := range f.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *Fetcher) track(videoID string) func() {
	f.mu.Lock()
	f.active[videoID] = time.Now()
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.active, videoID)
		f.mu.Unlock()
	}
}

func (f *Fetcher) fetch(videoID string) (result FetchResult, err error) {
	if f.store.Has(videoID) {
		return FetchResult{VideoID: videoID, Hit: true}, nil
	}

	untrack := f.track(videoID)
	defer untrack()
	done := f.metrics.FetchStarted()
	defer func() { done(err) }()

	tmp := f.store.TempPathFor(videoID)
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("fetch panicked",
				slog.String("video_id", videoID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("fetch panicked: %v", r)
		}
		if err != nil {
			_ = os.Remove(tmp)
			f.hub.BroadcastFetch(ws.FetchPayload{VideoID: videoID, Stage: ws.StageFailed, Error: err.Error()})
		}
	}()

	_ = os.Remove(tmp)
	f.hub.BroadcastFetch(ws.FetchPayload{VideoID: videoID, Stage: ws.StageStarted})
	f.logger.Info("cache miss, fetching", slog.String("video_id", videoID))
	started := time.Now()

	fetched, err := f.runner.Fetch(f.base, videoID, tmp)
	if err != nil {
		f.logger.Error("fetch failed",
			slog.String("video_id", videoID),
			slog.String("category", string(downloader.CategoryOf(err))),
			slog.Any("error", err),
		)
		return FetchResult{}, err
	}

	size, err := f.store.Publish(videoID, tmp)
	if err != nil {
		f.logger.Error("publish failed", slog.String("video_id", videoID), slog.Any("error", err))
		return FetchResult{}, err
	}

	container := fetched.Container
	if f.probe != nil {
		probed, probeErr := f.probe(f.store.Path(videoID))
		switch {
		case probeErr == nil:
			container = probed
		case !errors.Is(probeErr, downloader.ErrProbeUnavailable):
			f.logger.Warn("probing published file failed", slog.String("video_id", videoID), slog.Any("error", probeErr))
		}
	}

	if f.catalog != nil {
		entry := catalog.Entry{
			VideoID:   videoID,
			FileSize:  size,
			Container: container,
			Strategy:  fetched.Strategy,
			Source:    fetched.Instance,
		}
		if err := f.catalog.Upsert(entry); err != nil {
			f.logger.Warn("catalog update failed", slog.String("video_id", videoID), slog.Any("error", err))
		}
	}

	f.hub.BroadcastFetch(ws.FetchPayload{VideoID: videoID, Stage: ws.StagePublished, Strategy: fetched.Strategy, Bytes: size})
	f.logger.Info("published",
		slog.String("video_id", videoID),
		slog.String("strategy", fetched.Strategy),
		slog.String("instance", fetched.Instance),
		slog.String("container", container),
		slog.Int64("bytes", size),
		slog.Duration("elapsed", time.Since(started)),
	)
	return FetchResult{
		VideoID:  videoID,
		Strategy: fetched.Strategy,
		Source:   fetched.Instance,
		Bytes:    size,
	}, nil
}
