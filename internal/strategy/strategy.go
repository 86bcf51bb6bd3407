// Package strategy runs ordered lists of search and audio-fetch strategies.
// Each strategy is a record of optional capabilities; the runner walks the
// list once and stops at the first non-empty result.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lvcoi/deckproxy/internal/downloader"
	"github.com/lvcoi/deckproxy/internal/mirror"
)

const (
	OpSearch = "search"
	OpFetch  = "fetch"
)

const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
)

// SearchFunc returns normalized results. An empty slice means "try the next
// strategy".
type SearchFunc func(ctx context.Context, query string) ([]mirror.VideoSummary, error)

// FetchFunc writes the audio of videoID to dest. A nil Fetched with a nil
// error means the strategy had nothing to offer; dest must not exist then.
type FetchFunc func(ctx context.Context, videoID, dest string) (*Fetched, error)

// Strategy is one named approach. Either capability may be nil.
type Strategy struct {
	Name       string
	Search     SearchFunc
	FetchAudio FetchFunc
}

// Fetched describes a successful fetch.
type Fetched struct {
	Strategy  string
	Instance  string
	Container string
	Bytes     int64
}

// Outcome is reported once per consulted strategy.
type Outcome struct {
	Op       string
	Subject  string // search query or video id
	Strategy string
	Instance string
	Result   string
	Err      error
	Elapsed  time.Duration
}

// ExhaustedError is returned by Fetch when no strategy produced audio.
type ExhaustedError struct {
	Last error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return "All download methods failed"
	}
	return "All download methods failed: " + e.Last.Error()
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsExhausted reports whether err came from a fetch chain running dry.
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// Runner dispatches operations to the configured strategies in order.
type Runner struct {
	Searchers []Strategy
	Fetchers  []Strategy
	Logger    *slog.Logger
	// Observe, if set, is called synchronously after each strategy returns.
	Observe func(Outcome)
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Search returns the first non-empty result list. Strategy errors are logged
// and never returned; the only error is a cancelled context.
func (r *Runner) Search(ctx context.Context, query string) ([]mirror.VideoSummary, error) {
	for _, s := range r.Searchers {
		if s.Search == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		started := time.Now()
		videos, err := s.Search(ctx, query)
		outcome := Outcome{Op: OpSearch, Subject: query, Strategy: s.Name, Err: err, Elapsed: time.Since(started)}
		switch {
		case err != nil:
			outcome.Result = OutcomeError
		case len(videos) == 0:
			outcome.Result = OutcomeEmpty
		default:
			outcome.Result = OutcomeSuccess
		}
		r.report(outcome)
		if outcome.Result == OutcomeSuccess {
			if len(videos) > mirror.MaxResults {
				videos = videos[:mirror.MaxResults]
			}
			return videos, nil
		}
	}
	return []mirror.VideoSummary{}, nil
}

// Fetch runs the fetch chain until one strategy writes dest. When every
// strategy fails the returned error is an *ExhaustedError carrying the last
// strategy error.
func (r *Runner) Fetch(ctx context.Context, videoID, dest string) (*Fetched, error) {
	var lastErr error
	for _, s := range r.Fetchers {
		if s.FetchAudio == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		started := time.Now()
		fetched, err := s.FetchAudio(ctx, videoID, dest)
		outcome := Outcome{Op: OpFetch, Subject: videoID, Strategy: s.Name, Err: err, Elapsed: time.Since(started)}
		switch {
		case err != nil:
			outcome.Result = OutcomeError
			lastErr = fmt.Errorf("%s: %w", s.Name, err)
		case fetched == nil:
			outcome.Result = OutcomeEmpty
		default:
			outcome.Result = OutcomeSuccess
			outcome.Instance = fetched.Instance
			if fetched.Strategy == "" {
				fetched.Strategy = s.Name
			}
		}
		r.report(outcome)
		if outcome.Result == OutcomeSuccess {
			return fetched, nil
		}
	}
	return nil, &ExhaustedError{Last: lastErr}
}

func (r *Runner) report(o Outcome) {
	attrs := []any{
		slog.String("op", o.Op),
		slog.String("strategy", o.Strategy),
		slog.String("outcome", o.Result),
		slog.Duration("elapsed", o.Elapsed),
	}
	if o.Op == OpFetch {
		attrs = append(attrs, slog.String("video_id", o.Subject))
	} else {
		attrs = append(attrs, slog.String("query", o.Subject))
	}
	if o.Instance != "" {
		attrs = append(attrs, slog.String("instance", o.Instance))
	}
	switch o.Result {
	case OutcomeError:
		attrs = append(attrs,
			slog.String("category", string(downloader.CategoryOf(o.Err))),
			slog.Any("error", o.Err),
		)
		r.logger().Warn("strategy failed", attrs...)
	case OutcomeEmpty:
		r.logger().Info("strategy returned nothing", attrs...)
	default:
		r.logger().Info("strategy succeeded", attrs...)
	}
	if r.Observe != nil {
		r.Observe(o)
	}
}
