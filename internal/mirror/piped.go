package mirror

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/lvcoi/deckproxy/internal/downloader"
)

// Piped is a read-mirror adapter for the Piped API.
type Piped struct {
	Instances []string
	Client    JSONClient
	Logger    *slog.Logger
}

type pipedSearchResponse struct {
	Items []struct {
		Type         string  `json:"type"`
		URL          string  `json:"url"`
		Title        string  `json:"title"`
		Duration     flexInt `json:"duration"`
		Thumbnail    string  `json:"thumbnail"`
		UploaderName string  `json:"uploaderName"`
	} `json:"items"`
}

type pipedStreamsResponse struct {
	AudioStreams []struct {
		URL      string  `json:"url"`
		Bitrate  flexInt `json:"bitrate"`
		MimeType string  `json:"mimeType"`
	} `json:"audioStreams"`
}

// Search queries /search?filter=videos on each instance until one returns streams.
func (a *Piped) Search(ctx context.Context, query string) ([]VideoSummary, error) {
	videos, _, err := tryInstances(ctx, loggerOr(a.Logger), "piped", "search", a.Instances,
		func(ctx context.Context, base string) ([]VideoSummary, bool, error) {
			endpoint := joinURL(base, "/search?q="+url.QueryEscape(query)+"&filter=videos")
			var resp pipedSearchResponse
			if err := a.Client.GetJSON(ctx, endpoint, &resp); err != nil {
				return nil, false, err
			}
			if resp.Items == nil {
				return nil, false, downloader.Wrap(downloader.CategoryProtocol, errors.New("response has no items"))
			}
			out := make([]VideoSummary, 0, MaxResults)
			for _, item := range resp.Items {
				if item.Type != "stream" {
					continue
				}
				summary, ok := newSummary(pipedVideoID(item.URL), item.Title, int(item.Duration), item.Thumbnail, item.UploaderName)
				if !ok {
					continue
				}
				out = append(out, summary)
				if len(out) == MaxResults {
					break
				}
			}
			return out, len(out) > 0, nil
		})
	return videos, err
}

// FindAudio reads /streams/<id> and returns the best audio stream.
func (a *Piped) FindAudio(ctx context.Context, videoID string) (Audio, error) {
	format, instance, err := tryInstances(ctx, loggerOr(a.Logger), "piped", "fetch", a.Instances,
		func(ctx context.Context, base string) (downloader.AudioFormat, bool, error) {
			var resp pipedStreamsResponse
			if err := a.Client.GetJSON(ctx, joinURL(base, "/streams/"+url.PathEscape(videoID)), &resp); err != nil {
				return downloader.AudioFormat{}, false, err
			}
			if resp.AudioStreams == nil {
				return downloader.AudioFormat{}, false, downloader.Wrap(downloader.CategoryProtocol, errors.New("response has no audioStreams"))
			}
			formats := make([]downloader.AudioFormat, 0, len(resp.AudioStreams))
			for _, s := range resp.AudioStreams {
				if s.MimeType != "" && !downloader.AudioOnly(s.MimeType) {
					continue
				}
				formats = append(formats, downloader.AudioFormat{
					URL:       s.URL,
					Container: downloader.ContainerFromMime(s.MimeType),
					Bitrate:   int(s.Bitrate),
				})
			}
			best, ok := downloader.BestAudio(formats)
			return best, ok, nil
		})
	if err != nil || instance == "" {
		return Audio{}, err
	}
	return Audio{AudioFormat: format, Instance: instance}, nil
}

// pipedVideoID accepts "/watch?v=<id>" as well as path-tail forms like
// "/shorts/<id>".
func pipedVideoID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if v := u.Query().Get("v"); v != "" {
		return v
	}
	tail := path.Base(strings.TrimRight(u.Path, "/"))
	if tail == "." || tail == "/" || tail == "watch" {
		return ""
	}
	return tail
}
