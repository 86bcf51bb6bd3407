package downloader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// ErrProbeUnavailable is returned when ffprobe is not installed.
var ErrProbeUnavailable = errors.New("ffprobe not found in PATH")

type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

// ProbeContainer reports the real container of a cached file. Cache entries
// keep an .mp3 name whatever the upstream delivered, so this is recorded
// alongside the entry.
func ProbeContainer(path string) (string, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return "", ErrProbeUnavailable
	}
	raw, err := ffmpeg.Probe(path)
	if err != nil {
		return "", fmt.Errorf("probing %s: %w", path, err)
	}
	return parseProbeContainer([]byte(raw))
}

func parseProbeContainer(raw []byte) (string, error) {
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decoding ffprobe output: %w", err)
	}
	names := strings.Split(out.Format.FormatName, ",")
	if len(names) == 0 || names[0] == "" {
		return "", errors.New("ffprobe reported no format")
	}
	switch names[0] {
	case "mov":
		return "m4a", nil
	case "matroska":
		return "webm", nil
	}
	return names[0], nil
}
