package downloader

import (
	"errors"
	"mime"
	"sort"
	"strings"

	"github.com/kkdai/youtube/v2"
)

// AudioFormat is one audio variant offered by an upstream.
type AudioFormat struct {
	URL       string
	Container string
	Bitrate   int
}

// AudioOnly reports whether the MIME type describes an audio-only stream.
func AudioOnly(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "audio/")
}

// ContainerFromMime turns "audio/webm; codecs=\"opus\"" into "webm".
func ContainerFromMime(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	}
	_, sub, ok := strings.Cut(strings.ToLower(mediaType), "/")
	if !ok {
		return ""
	}
	if sub == "mp4" {
		return "m4a"
	}
	return sub
}

// BestAudio returns the highest-bitrate format that has a URL. Ties keep the
// upstream order.
func BestAudio(formats []AudioFormat) (AudioFormat, bool) {
	candidates := make([]AudioFormat, 0, len(formats))
	for _, f := range formats {
		if strings.TrimSpace(f.URL) == "" {
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		return AudioFormat{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Bitrate > candidates[j].Bitrate
	})
	return candidates[0], true
}

func pickAudioFormat(formats youtube.FormatList) (*youtube.Format, error) {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if f.AudioChannels == 0 || f.Width != 0 || f.Height != 0 {
			continue
		}
		if best == nil || bitrateForFormat(f) > bitrateForFormat(best) {
			best = f
		}
	}
	if best == nil {
		return nil, wrapCategory(CategoryNoAudio, errors.New("no audio-only formats available"))
	}
	return best, nil
}

func bitrateForFormat(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}
	return 0
}
