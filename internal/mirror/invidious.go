package mirror

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/lvcoi/deckproxy/internal/downloader"
)

// Invidious is a read-mirror adapter for the Invidious v1 API.
type Invidious struct {
	Instances []string
	Client    JSONClient
	Logger    *slog.Logger
}

type invidiousThumbnail struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
}

type invidiousSearchItem struct {
	Type            string               `json:"type"`
	VideoID         string               `json:"videoId"`
	Title           string               `json:"title"`
	LengthSeconds   flexInt              `json:"lengthSeconds"`
	Author          string               `json:"author"`
	VideoThumbnails []invidiousThumbnail `json:"videoThumbnails"`
}

type invidiousFormat struct {
	Type    string  `json:"type"`
	URL     string  `json:"url"`
	Bitrate flexInt `json:"bitrate"`
}

type invidiousVideo struct {
	AdaptiveFormats []invidiousFormat `json:"adaptiveFormats"`
}

// Search queries /api/v1/search on each instance until one returns videos.
func (a *Invidious) Search(ctx context.Context, query string) ([]VideoSummary, error) {
	videos, _, err := tryInstances(ctx, loggerOr(a.Logger), "invidious", "search", a.Instances,
		func(ctx context.Context, base string) ([]VideoSummary, bool, error) {
			endpoint := joinURL(base, "/api/v1/search?q="+url.QueryEscape(query)+"&type=video")
			var items []invidiousSearchItem
			if err := a.Client.GetJSON(ctx, endpoint, &items); err != nil {
				return nil, false, err
			}
			out := make([]VideoSummary, 0, MaxResults)
			for _, item := range items {
				if item.Type != "" && item.Type != "video" {
					continue
				}
				summary, ok := newSummary(item.VideoID, item.Title, int(item.LengthSeconds), invidiousThumbnailURL(base, item.VideoThumbnails), item.Author)
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

// FindAudio reads /api/v1/videos/<id> and returns the best audio-only format.
func (a *Invidious) FindAudio(ctx context.Context, videoID string) (Audio, error) {
	format, instance, err := tryInstances(ctx, loggerOr(a.Logger), "invidious", "fetch", a.Instances,
		func(ctx context.Context, base string) (downloader.AudioFormat, bool, error) {
			var video invidiousVideo
			if err := a.Client.GetJSON(ctx, joinURL(base, "/api/v1/videos/"+url.PathEscape(videoID)), &video); err != nil {
				return downloader.AudioFormat{}, false, err
			}
			if video.AdaptiveFormats == nil {
				return downloader.AudioFormat{}, false, downloader.Wrap(downloader.CategoryProtocol, errors.New("response has no adaptiveFormats"))
			}
			formats := make([]downloader.AudioFormat, 0, len(video.AdaptiveFormats))
			for _, f := range video.AdaptiveFormats {
				if !downloader.AudioOnly(f.Type) {
					continue
				}
				formats = append(formats, downloader.AudioFormat{
					URL:       f.URL,
					Container: downloader.ContainerFromMime(f.Type),
					Bitrate:   int(f.Bitrate),
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

func invidiousThumbnailURL(base string, thumbs []invidiousThumbnail) string {
	for _, t := range thumbs {
		if t.URL == "" {
			continue
		}
		if strings.HasPrefix(t.URL, "/") {
			return joinURL(base, t.URL)
		}
		return t.URL
	}
	return ""
}
