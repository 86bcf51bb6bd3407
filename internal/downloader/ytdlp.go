package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	audioFormatSelector = "bestaudio/best"
	cookieFileName      = "cookies.txt"
	watchURLPrefix      = "https://www.youtube.com/watch?v="

	defaultExtractionTimeout = 10 * time.Minute
	maxToolOutput            = 2048
)

// Environment variables holding optional credential material.
const (
	EnvCookies     = "YOUTUBE_COOKIES"
	EnvPOToken     = "YOUTUBE_PO_TOKEN"
	EnvVisitorData = "YOUTUBE_VISITOR_DATA"
)

// Credentials is the opportunistic session material handed to the
// extraction tool. Mirror adapters never see it.
type Credentials struct {
	Cookies     string
	POToken     string
	VisitorData string
}

// CredentialsFromEnv reads credential material through getenv.
func CredentialsFromEnv(getenv func(string) string) Credentials {
	if getenv == nil {
		getenv = os.Getenv
	}
	return Credentials{
		Cookies:     getenv(EnvCookies),
		POToken:     strings.TrimSpace(getenv(EnvPOToken)),
		VisitorData: strings.TrimSpace(getenv(EnvVisitorData)),
	}
}

// Extractor runs yt-dlp as the last-resort audio source.
type Extractor struct {
	Binary   string
	CacheDir string
	// Getenv is consulted on every invocation so credential changes apply
	// without a restart. Defaults to os.Getenv.
	Getenv  func(string) string
	Timeout time.Duration
	Logger  *slog.Logger
}

// CookiePath is the singleton cookie file under the cache directory.
func (e *Extractor) CookiePath() string {
	return filepath.Join(e.CacheDir, cookieFileName)
}

func (e *Extractor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Download fetches the best audio of videoID into dest. dest is removed when
// the tool fails.
func (e *Extractor) Download(ctx context.Context, videoID, dest string) error {
	binary := e.Binary
	if binary == "" {
		binary = "yt-dlp"
	}
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultExtractionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := e.buildArgs(videoID, dest)
	cmd := exec.CommandContext(ctx, binary, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	started := time.Now()
	err := cmd.Run()
	if err == nil {
		e.logger().Info("extraction tool finished",
			slog.String("video_id", videoID),
			slog.Duration("elapsed", time.Since(started)),
		)
		return nil
	}

	_ = os.Remove(dest)
	_ = os.Remove(dest + ".part")

	detail := tail(strings.TrimSpace(output.String()), maxToolOutput)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return wrapCategory(CategoryTimeout, fmt.Errorf("yt-dlp timed out after %s", timeout))
	}
	failure := fmt.Errorf("yt-dlp failed: %w: %s", err, detail)
	if IsAuthRequired(failure) {
		e.logger().Error("upstream requires sign-in; supply cookie material via YOUTUBE_COOKIES or "+e.CookiePath(),
			slog.String("video_id", videoID),
			slog.String("category", string(CategoryAuthRequired)),
		)
		return wrapCategory(CategoryAuthRequired, failure)
	}
	return wrapCategory(CategoryExtraction, failure)
}

// buildArgs applies the credential precedence: inline cookies are written to
// the cookie file, else an existing cookie file is reused; a PO token bundle
// is added when both halves are present.
func (e *Extractor) buildArgs(videoID, dest string) []string {
	args := []string{
		watchURLPrefix + videoID,
		"-o", dest,
		"-f", audioFormatSelector,
		"--no-playlist",
		"--no-part",
		"--no-check-certificates",
		"--no-warnings",
		"--add-header", "referer:youtube.com",
		"--add-header", "user-agent:" + defaultUserAgent,
	}

	creds := CredentialsFromEnv(e.Getenv)
	haveCookies := false
	cookiePath := e.CookiePath()
	if creds.Cookies != "" {
		if err := os.WriteFile(cookiePath, []byte(creds.Cookies), 0o600); err != nil {
			e.logger().Warn("writing cookie file failed", slog.String("path", cookiePath), slog.Any("error", err))
		} else {
			haveCookies = true
		}
	} else if _, err := os.Stat(cookiePath); err == nil {
		haveCookies = true
	}
	if haveCookies {
		args = append(args, "--cookies", cookiePath)
	}

	haveToken := creds.POToken != "" && creds.VisitorData != ""
	if haveToken {
		args = append(args, "--extractor-args",
			fmt.Sprintf("youtube:po_token=web+%s;visitor_data=%s", creds.POToken, creds.VisitorData))
	}

	if !haveCookies && !haveToken {
		e.logger().Warn("no cookies or PO token configured; upstream bot detection may trigger",
			slog.String("video_id", videoID))
	}
	return args
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
