package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lvcoi/deckproxy/internal/app"
	"github.com/lvcoi/deckproxy/internal/config"
	"github.com/lvcoi/deckproxy/internal/downloader"
	"github.com/lvcoi/deckproxy/internal/web"
)

func main() {
	var (
		addr      string
		logLevel  string
		logFormat string
		envFile   string
		prefetch  bool
		jobs      int
	)
	flag.StringVar(&addr, "addr", "", "listen address (overrides PORT)")
	flag.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&logFormat, "log-format", "", "log format: text or json (overrides LOG_FORMAT)")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flag.BoolVar(&prefetch, "prefetch", false, "warm the cache for the video ids given as arguments and exit")
	flag.IntVar(&jobs, "jobs", 2, "number of concurrent prefetches")
	flag.Parse()

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading %s: %v\n", envFile, err)
		os.Exit(downloader.ExitCode(downloader.Wrap(downloader.CategoryInput, err)))
	}

	cfg, err := config.Load(os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid configuration:\n%v\n", err)
		os.Exit(downloader.ExitCode(downloader.Wrap(downloader.CategoryInput, err)))
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if logLevel != "" {
		cfg.LogLevel = strings.ToLower(logLevel)
	}
	if logFormat != "" {
		cfg.LogFormat = strings.ToLower(logFormat)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("starting gateway failed", slog.Any("error", err))
		stop()
		os.Exit(downloader.ExitCode(err))
	}

	if prefetch {
		code := runPrefetch(ctx, gw, flag.Args(), jobs)
		gw.Close()
		stop()
		os.Exit(code)
	}

	handler, err := web.NewHandler(gw, cfg.StaticDir, logger)
	if err != nil {
		logger.Error("building handler failed", slog.Any("error", err))
		gw.Close()
		stop()
		os.Exit(1)
	}
	err = web.ListenAndServe(ctx, cfg.Addr, handler, logger)
	gw.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
	logger.Info("shut down")
}

func runPrefetch(ctx context.Context, gw *app.Gateway, ids []string, jobs int) int {
	if len(ids) == 0 {
		err := downloader.Wrap(downloader.CategoryInput, errors.New("no video ids provided"))
		fmt.Fprintf(os.Stderr, "usage: %s -prefetch [options] <videoId> [videoId...]\n", os.Args[0])
		flag.PrintDefaults()
		return downloader.ExitCode(err)
	}
	results, code := app.Prefetch(ctx, gw.Fetcher, ids, jobs)
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	for _, res := range results {
		if res.Err != nil {
			writeJSONError(res.VideoID, res.Err)
			continue
		}
		_ = enc.Encode(struct {
			Type string `json:"type"`
			app.Result
		}{Type: "result", Result: res})
	}
	return code
}

func writeJSONError(videoID string, err error) {
	payload := struct {
		Type     string `json:"type"`
		VideoID  string `json:"videoId,omitempty"`
		Category string `json:"category"`
		Error    string `json:"error"`
	}{
		Type:     "error",
		VideoID:  videoID,
		Category: string(downloader.CategoryOf(err)),
		Error:    err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
