package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raitonoberu/ytsearch"

	"github.com/lvcoi/deckproxy/internal/downloader"
)

// Scraper searches the upstream site directly by scraping its result page.
// It is the search fallback when every mirror is down.
type Scraper struct {
	Logger *slog.Logger

	// search is swapped in tests.
	search func(query string) ([]VideoSummary, error)
}

// Search runs one result-page scrape. The scrape itself is not cancellable;
// ctx only bounds how long the caller waits for it.
func (s *Scraper) Search(ctx context.Context, query string) ([]VideoSummary, error) {
	search := s.search
	if search == nil {
		search = scrapeVideos
	}
	type result struct {
		videos []VideoSummary
		err    error
	}
	done := make(chan result, 1)
	go func() {
		videos, err := search(query)
		done <- result{videos, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, downloader.Wrap(downloader.CategoryExtraction, fmt.Errorf("scraping search results: %w", r.err))
		}
		loggerOr(s.Logger).Info("scraped search results",
			slog.String("provider", "youtube"),
			slog.Int("count", len(r.videos)),
		)
		return r.videos, nil
	}
}

func scrapeVideos(query string) ([]VideoSummary, error) {
	page, err := ytsearch.VideoSearch(query).Next()
	if err != nil {
		return nil, err
	}
	out := make([]VideoSummary, 0, MaxResults)
	for _, video := range page.Videos {
		thumbnail := ""
		if len(video.Thumbnails) > 0 {
			thumbnail = video.Thumbnails[0].URL
		}
		summary, ok := newSummary(video.ID, video.Title, video.Duration, thumbnail, video.Channel.Title)
		if !ok {
			continue
		}
		out = append(out, summary)
		if len(out) == MaxResults {
			break
		}
	}
	return out, nil
}
