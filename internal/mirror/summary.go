// Package mirror adapts third-party re-hosts of the upstream video service
// to one search and audio-discovery contract.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lvcoi/deckproxy/internal/downloader"
)

// MaxResults caps every normalized search result list.
const MaxResults = 10

// VideoSummary is the provider-neutral search result handed to clients.
type VideoSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Timestamp string `json:"timestamp"`
	Duration  int    `json:"duration"`
	Thumbnail string `json:"thumbnail"`
	Author    string `json:"author"`
}

// Audio is a discovered audio variant and the instance that offered it.
type Audio struct {
	downloader.AudioFormat
	Instance string
}

// JSONClient is the subset of downloader.Client the adapters need.
type JSONClient interface {
	GetJSON(ctx context.Context, rawURL string, dst any) error
	PostJSON(ctx context.Context, rawURL string, payload, dst any) error
}

// FormatDuration renders seconds as m:ss. Negative input renders as 0:00.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// ParseTimestamp is the inverse of FormatDuration.
func ParseTimestamp(ts string) (int, error) {
	minutes, secs, ok := strings.Cut(ts, ":")
	if !ok || len(secs) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}
	m, err := strconv.Atoi(minutes)
	if err != nil || m < 0 {
		return 0, fmt.Errorf("invalid minutes in %q", ts)
	}
	s, err := strconv.Atoi(secs)
	if err != nil || s < 0 || s > 59 {
		return 0, fmt.Errorf("invalid seconds in %q", ts)
	}
	return m*60 + s, nil
}

// ThumbnailFor is the well-known thumbnail location for a video id.
func ThumbnailFor(id string) string {
	return "https://i.ytimg.com/vi/" + id + "/hqdefault.jpg"
}

// newSummary normalizes one provider entry. Entries without an id or title
// are dropped.
func newSummary(id, title string, seconds int, thumbnail, author string) (VideoSummary, bool) {
	id = strings.TrimSpace(id)
	title = strings.TrimSpace(title)
	if id == "" || title == "" {
		return VideoSummary{}, false
	}
	if seconds < 0 {
		seconds = 0
	}
	if strings.TrimSpace(thumbnail) == "" {
		thumbnail = ThumbnailFor(id)
	}
	return VideoSummary{
		ID:        id,
		Title:     title,
		Timestamp: FormatDuration(seconds),
		Duration:  seconds,
		Thumbnail: thumbnail,
		Author:    author,
	}, true
}

// flexInt decodes integers that some instances send as strings.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		*n = 0
		return nil
	}
	f := json.Number(raw)
	if v, err := f.Int64(); err == nil {
		*n = flexInt(v)
		return nil
	}
	if v, err := f.Float64(); err == nil {
		*n = flexInt(v)
		return nil
	}
	*n = 0
	return nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
