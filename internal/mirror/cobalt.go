package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lvcoi/deckproxy/internal/downloader"
)

const watchURLPrefix = "https://www.youtube.com/watch?v="

// Cobalt is an extraction-mirror adapter: the instance extracts server-side
// and answers with a short-lived tunnel or redirect URL.
type Cobalt struct {
	Instances []string
	Client    JSONClient
	Logger    *slog.Logger
}

type cobaltRequest struct {
	URL          string `json:"url"`
	DownloadMode string `json:"downloadMode"`
	AudioFormat  string `json:"audioFormat"`
	AudioBitrate string `json:"audioBitrate"`
}

type cobaltResponse struct {
	Status string `json:"status"`
	URL    string `json:"url"`
	Error  *struct {
		Code string `json:"code"`
	} `json:"error"`
}

// FindAudio asks each instance for an audio-mode URL.
func (a *Cobalt) FindAudio(ctx context.Context, videoID string) (Audio, error) {
	payload := cobaltRequest{
		URL:          watchURLPrefix + videoID,
		DownloadMode: "audio",
		AudioFormat:  "mp3",
		AudioBitrate: "128",
	}
	format, instance, err := tryInstances(ctx, loggerOr(a.Logger), "cobalt", "fetch", a.Instances,
		func(ctx context.Context, base string) (downloader.AudioFormat, bool, error) {
			var resp cobaltResponse
			if err := a.Client.PostJSON(ctx, joinURL(base, "/"), payload, &resp); err != nil {
				return downloader.AudioFormat{}, false, err
			}
			switch resp.Status {
			case "tunnel", "redirect":
				if resp.URL == "" {
					return downloader.AudioFormat{}, false, downloader.Wrap(downloader.CategoryProtocol, fmt.Errorf("%s response without url", resp.Status))
				}
				return downloader.AudioFormat{URL: resp.URL}, true, nil
			case "error":
				code := "unknown"
				if resp.Error != nil && resp.Error.Code != "" {
					code = resp.Error.Code
				}
				return downloader.AudioFormat{}, false, downloader.Wrap(downloader.CategoryUpstream, fmt.Errorf("cobalt error %s", code))
			case "":
				return downloader.AudioFormat{}, false, downloader.Wrap(downloader.CategoryProtocol, errors.New("response has no status"))
			default:
				return downloader.AudioFormat{}, false, downloader.Wrap(downloader.CategoryUpstream, fmt.Errorf("unsupported cobalt status %q", resp.Status))
			}
		})
	if err != nil || instance == "" {
		return Audio{}, err
	}
	return Audio{AudioFormat: format, Instance: instance}, nil
}
