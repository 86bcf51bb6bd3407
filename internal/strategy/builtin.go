package strategy

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lvcoi/deckproxy/internal/downloader"
	"github.com/lvcoi/deckproxy/internal/mirror"
)

// Strategy names accepted in configuration.
const (
	NameInvidious = "invidious"
	NamePiped     = "piped"
	NameCobalt    = "cobalt"
	NameYouTube   = "youtube"
	NameYtDlp     = "ytdlp"
	NameInnertube = "innertube"
)

var (
	DefaultSearchOrder = []string{NameInvidious, NamePiped, NameYouTube}
	DefaultFetchOrder  = []string{NameCobalt, NameInvidious, NamePiped, NameYtDlp}
)

// Searcher is implemented by the mirror adapters that can search.
type Searcher interface {
	Search(ctx context.Context, query string) ([]mirror.VideoSummary, error)
}

// AudioFinder is implemented by every mirror adapter.
type AudioFinder interface {
	FindAudio(ctx context.Context, videoID string) (mirror.Audio, error)
}

// FormatFinder resolves an audio format without a mirror.
type FormatFinder interface {
	FindAudio(ctx context.Context, videoID string) (downloader.AudioFormat, error)
}

// Downloader streams a URL to a local path.
type Downloader interface {
	Download(ctx context.Context, rawURL, path string) (int64, error)
}

// Extractor writes the audio of a video straight to dest.
type Extractor interface {
	Download(ctx context.Context, videoID, dest string) error
}

// SearchOnly wraps a search-capable adapter.
func SearchOnly(name string, s Searcher) Strategy {
	return Strategy{Name: name, Search: s.Search}
}

// Mirror builds a strategy from a read-mirror: search if s is non-nil, and
// fetch by discovering an audio URL and downloading it.
func Mirror(name string, s Searcher, f AudioFinder, dl Downloader) Strategy {
	st := Strategy{Name: name, FetchAudio: mirrorFetch(f, dl)}
	if s != nil {
		st.Search = s.Search
	}
	return st
}

func mirrorFetch(f AudioFinder, dl Downloader) FetchFunc {
	return func(ctx context.Context, videoID, dest string) (*Fetched, error) {
		audio, err := f.FindAudio(ctx, videoID)
		if err != nil {
			return nil, err
		}
		if audio.URL == "" {
			return nil, nil
		}
		n, err := dl.Download(ctx, audio.URL, dest)
		if err != nil {
			return nil, fmt.Errorf("downloading from %s: %w", audio.Instance, err)
		}
		return &Fetched{Instance: audio.Instance, Container: audio.Container, Bytes: n}, nil
	}
}

// Innertube builds the in-process player API strategy.
func Innertube(f FormatFinder, dl Downloader) Strategy {
	return Strategy{
		Name: NameInnertube,
		FetchAudio: func(ctx context.Context, videoID, dest string) (*Fetched, error) {
			format, err := f.FindAudio(ctx, videoID)
			if err != nil {
				return nil, err
			}
			n, err := dl.Download(ctx, format.URL, dest)
			if err != nil {
				return nil, fmt.Errorf("downloading innertube stream: %w", err)
			}
			return &Fetched{Instance: "innertube", Container: format.Container, Bytes: n}, nil
		},
	}
}

// ExtractionTool builds the last-resort strategy around the external tool.
// The tool reports success by exit status only; whether dest really exists
// is checked at publish time.
func ExtractionTool(e Extractor) Strategy {
	return Strategy{
		Name: NameYtDlp,
		FetchAudio: func(ctx context.Context, videoID, dest string) (*Fetched, error) {
			if err := e.Download(ctx, videoID, dest); err != nil {
				return nil, err
			}
			fetched := &Fetched{Instance: "local"}
			if info, err := os.Stat(dest); err == nil {
				fetched.Bytes = info.Size()
			}
			return fetched, nil
		},
	}
}

// Select orders the available strategies by names. Unknown names and names
// lacking the capability op needs are errors.
func Select(op string, names []string, available map[string]Strategy) ([]Strategy, error) {
	out := make([]Strategy, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		s, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("unknown %s strategy %q", op, raw)
		}
		if (op == OpSearch && s.Search == nil) || (op == OpFetch && s.FetchAudio == nil) {
			return nil, fmt.Errorf("strategy %q cannot %s", name, op)
		}
		out = append(out, s)
	}
	return out, nil
}

// Names lists strategy names in order.
func Names(list []Strategy) []string {
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.Name
	}
	return names
}
