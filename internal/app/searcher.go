package app

import (
	"context"
	"log/slog"

	"github.com/lvcoi/deckproxy/internal/mirror"
	"github.com/lvcoi/deckproxy/internal/strategy"
)

// SearchCache stores normalized results per query.
type SearchCache interface {
	Get(ctx context.Context, query string) ([]mirror.VideoSummary, bool, error)
	Set(ctx context.Context, query string, videos []mirror.VideoSummary) error
}

// Searcher runs the search chain behind an optional result cache. Cache
// failures are logged and otherwise ignored.
type Searcher struct {
	runner *strategy.Runner
	cache  SearchCache
	logger *slog.Logger
}

func NewSearcher(runner *strategy.Runner, cache SearchCache, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{runner: runner, cache: cache, logger: logger}
}

func (s *Searcher) Search(ctx context.Context, query string) ([]mirror.VideoSummary, error) {
	if s.cache != nil {
		videos, ok, err := s.cache.Get(ctx, query)
		switch {
		case err != nil:
			s.logger.Warn("search cache read failed", slog.Any("error", err))
		case ok:
			s.logger.Debug("search cache hit", slog.String("query", query), slog.Int("count", len(videos)))
			return videos, nil
		}
	}
	videos, err := s.runner.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, query, videos); err != nil {
			s.logger.Warn("search cache write failed", slog.Any("error", err))
		}
	}
	return videos, nil
}
