package downloader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kkdai/youtube/v2"
)

// InnertubeFinder resolves audio URLs in-process against the upstream player
// API, without a mirror or the external extraction tool.
type InnertubeFinder struct {
	client *youtube.Client
}

// NewInnertubeFinder builds a finder whose metadata calls are bounded by timeout.
func NewInnertubeFinder(timeout time.Duration) *InnertubeFinder {
	if timeout <= 0 {
		timeout = MetadataTimeout
	}
	httpClient := &http.Client{
		Timeout:   timeout,
		Transport: &consistentTransport{base: sharedTransport, userAgent: defaultUserAgent},
	}
	return &InnertubeFinder{client: &youtube.Client{HTTPClient: httpClient}}
}

// FindAudio returns the highest-bitrate audio-only format of videoID.
func (f *InnertubeFinder) FindAudio(ctx context.Context, videoID string) (AudioFormat, error) {
	video, err := f.client.GetVideoContext(ctx, videoID)
	if err != nil {
		if IsAuthRequired(err) {
			return AudioFormat{}, wrapCategory(CategoryAuthRequired, fmt.Errorf("fetching metadata: %w", err))
		}
		if CategoryOf(err) == CategoryTimeout {
			return AudioFormat{}, wrapCategory(CategoryTimeout, fmt.Errorf("fetching metadata: %w", err))
		}
		return AudioFormat{}, wrapCategory(CategoryUpstream, fmt.Errorf("fetching metadata: %w", err))
	}
	format, err := pickAudioFormat(video.Formats)
	if err != nil {
		return AudioFormat{}, err
	}
	streamURL, err := f.client.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return AudioFormat{}, wrapCategory(CategoryUpstream, fmt.Errorf("resolving stream url (itag %d): %w", format.ItagNo, err))
	}
	return AudioFormat{
		URL:       streamURL,
		Container: ContainerFromMime(format.MimeType),
		Bitrate:   bitrateForFormat(format),
	}, nil
}
