package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/lvcoi/deckproxy/internal/app"
	"github.com/lvcoi/deckproxy/internal/cache"
	"github.com/lvcoi/deckproxy/internal/catalog"
	"github.com/lvcoi/deckproxy/internal/downloader"
)

//go:embed assets/*
var embeddedAssets embed.FS

const audioContentType = "audio/mpeg"

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type cacheListResponse struct {
	Items      []catalog.Entry `json:"items"`
	NextOffset *int            `json:"next_offset"`
}

// NewHandler builds the HTTP surface of gw. staticDir, when set, replaces
// the embedded UI bundle.
func NewHandler(gw *app.Gateway, staticDir string, logger *slog.Logger) (http.Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	assets, err := uiAssets(staticDir)
	if err != nil {
		return nil, err
	}
	fileServer := http.FileServer(http.FS(assets))
	s := &server{gw: gw, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/cache", s.handleCacheList)
	mux.HandleFunc("/ws", gw.Hub.HandleWS)
	mux.Handle("/metrics", gw.Metrics.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			writeJSONError(w, http.StatusNotFound, "Not found", "")
			return
		}
		if r.URL.Path == "/" {
			serveIndex(w, assets)
			return
		}
		if fileExists(assets, strings.TrimPrefix(r.URL.Path, "/")) {
			fileServer.ServeHTTP(w, r)
			return
		}
		serveIndex(w, assets)
	})

	var limiter *rate.Limiter
	if gw.Config.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(gw.Config.RateLimitRPS), gw.Config.RateLimitBurst)
	}
	handler := withRecovery(logger, withRateLimit(limiter, withCORS(withSecurityHeaders(mux))))
	return withRequestID(withAccessLog(logger, gw.Metrics, handler)), nil
}

// ListenAndServe serves handler on addr until ctx is cancelled and logs the
// bound URL once the listener is up.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	logger.Info("listening", slog.String("url", boundURL(ln.Addr())))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func boundURL(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return "http://" + addr.String()
	}
	host := "localhost"
	if !tcp.IP.IsUnspecified() {
		host = tcp.IP.String()
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(tcp.Port))
}

type server struct {
	gw     *app.Gateway
	logger *slog.Logger
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSONError(w, http.StatusBadRequest, `Query parameter "q" is required`, "")
		return
	}
	videos, err := s.gw.Searcher.Search(r.Context(), query)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.logger.Error("search failed", slog.String("query", query), slog.Any("error", err))
		writeJSONError(w, http.StatusInternalServerError, "Search failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, videos)
}

func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}
	videoID := strings.TrimSpace(r.URL.Query().Get("videoId"))
	if videoID == "" {
		writeJSONError(w, http.StatusBadRequest, `Query parameter "videoId" is required`, "")
		return
	}
	if !cache.ValidID(videoID) {
		writeJSONError(w, http.StatusBadRequest, "Invalid videoId", "")
		return
	}

	var rng *cache.Range
	if header := r.Header.Get("Range"); header != "" {
		if parsed, ok := cache.ParseRange(header); ok {
			rng = parsed
		}
	}

	if !s.gw.Store.Has(videoID) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if _, err := s.gw.Fetcher.Ensure(r.Context(), videoID); err != nil {
			if r.Context().Err() != nil {
				return
			}
			s.writeStreamFailure(w, videoID, err)
			return
		}
		// Cold requests always receive the whole body.
		rng = nil
	} else {
		s.gw.Metrics.CacheLookup(true)
	}

	reader, err := s.gw.Store.Open(videoID, rng)
	if err != nil {
		var rangeErr *cache.RangeError
		if errors.As(err, &rangeErr) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", rangeErr.Size))
			writeJSONError(w, http.StatusRequestedRangeNotSatisfiable, "Range not satisfiable", "")
			return
		}
		s.writeStreamFailure(w, videoID, err)
		return
	}
	defer reader.Close()

	h := w.Header()
	h.Set("Content-Type", audioContentType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(reader.Length(), 10))
	status := http.StatusOK
	if reader.Partial {
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", reader.Start, reader.End, reader.Size))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}

	n, err := io.Copy(w, reader)
	s.gw.Metrics.BytesServed(n)
	if err != nil {
		// Headers are out; the client only sees a short body.
		s.logger.Debug("stream copy ended early",
			slog.String("video_id", videoID),
			slog.Int64("bytes", n),
			slog.Any("error", err),
		)
	}
}

func (s *server) writeStreamFailure(w http.ResponseWriter, videoID string, err error) {
	category := downloader.CategoryOf(err)
	s.logger.Error("stream failed",
		slog.String("video_id", videoID),
		slog.String("category", string(category)),
		slog.Any("error", err),
	)
	if category == downloader.CategoryInput {
		writeJSONError(w, http.StatusBadRequest, "Invalid videoId", err.Error())
		return
	}
	writeJSONError(w, http.StatusInternalServerError, "Stream failed", err.Error())
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}
	writeJSON(w, http.StatusOK, s.gw.Status())
}

func (s *server) handleCacheList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}
	offset, limit, err := parsePagination(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	var items []catalog.Entry
	if s.gw.Catalog != nil {
		// One extra row tells whether another page exists.
		items, err = s.gw.Catalog.List(limit+1, offset)
		if err != nil {
			s.logger.Error("listing catalog failed", slog.Any("error", err))
			writeJSONError(w, http.StatusInternalServerError, "Failed to list cache", "")
			return
		}
	} else {
		entries, err := s.gw.Store.List()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "Failed to list cache", "")
			return
		}
		for i := offset; i < len(entries) && i <= offset+limit; i++ {
			e := entries[i]
			items = append(items, catalog.Entry{VideoID: e.ID, FileSize: e.Size, CreatedAt: e.ModTime.UTC(), UpdatedAt: e.ModTime.UTC()})
		}
	}

	resp := cacheListResponse{Items: items}
	if len(items) > limit {
		resp.Items = items[:limit]
		next := offset + limit
		resp.NextOffset = &next
	}
	if resp.Items == nil {
		resp.Items = []catalog.Entry{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func parsePagination(r *http.Request) (offset int, limit int, err error) {
	offset = 0
	limit = catalog.DefaultLimit

	q := r.URL.Query()
	if rawOffset := q.Get("offset"); rawOffset != "" {
		parsed, parseErr := strconv.Atoi(rawOffset)
		if parseErr != nil || parsed < 0 {
			return 0, 0, errors.New("invalid offset parameter")
		}
		offset = parsed
	}
	if rawLimit := q.Get("limit"); rawLimit != "" {
		parsed, parseErr := strconv.Atoi(rawLimit)
		if parseErr != nil || parsed <= 0 {
			return 0, 0, errors.New("invalid limit parameter")
		}
		if parsed > catalog.MaxLimit {
			parsed = catalog.MaxLimit
		}
		limit = parsed
	}
	return offset, limit, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{Error: message, Details: details})
}

func uiAssets(staticDir string) (fs.FS, error) {
	if staticDir != "" {
		info, err := os.Stat(staticDir)
		if err != nil {
			return nil, fmt.Errorf("static directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("static directory %s is not a directory", staticDir)
		}
		return os.DirFS(staticDir), nil
	}
	return fs.Sub(embeddedAssets, "assets")
}

func serveIndex(w http.ResponseWriter, assets fs.FS) {
	data, err := fs.ReadFile(assets, "index.html")
	if err != nil {
		http.Error(w, "missing index", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func fileExists(assets fs.FS, name string) bool {
	if name == "" {
		return false
	}
	f, err := assets.Open(name)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
