package downloader

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func envFrom(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func argValue(args []string, flag string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}

func TestBuildArgsWritesInlineCookies(t *testing.T) {
	dir := t.TempDir()
	cookiePath := filepath.Join(dir, cookieFileName)
	if err := os.WriteFile(cookiePath, []byte("stale"), 0o600); err != nil {
		t.Fatalf("seed cookie file: %v", err)
	}
	e := &Extractor{CacheDir: dir, Getenv: envFrom(map[string]string{EnvCookies: "# Netscape HTTP Cookie File\nfresh"})}

	args := e.buildArgs("abc", filepath.Join(dir, "abc.download"))

	if got, ok := argValue(args, "--cookies"); !ok || got != cookiePath {
		t.Fatalf("expected --cookies %s, got %q (present=%v)", cookiePath, got, ok)
	}
	data, err := os.ReadFile(cookiePath)
	if err != nil {
		t.Fatalf("read cookie file: %v", err)
	}
	if !strings.HasSuffix(string(data), "fresh") {
		t.Fatalf("expected cookie file to be replaced, got %q", data)
	}
	if args[0] != "https://www.youtube.com/watch?v=abc" {
		t.Fatalf("expected watch URL first, got %q", args[0])
	}
	if got, _ := argValue(args, "-f"); got != "bestaudio/best" {
		t.Fatalf("expected bestaudio/best selector, got %q", got)
	}
}

func TestBuildArgsReusesExistingCookieFile(t *testing.T) {
	dir := t.TempDir()
	cookiePath := filepath.Join(dir, cookieFileName)
	if err := os.WriteFile(cookiePath, []byte("existing"), 0o600); err != nil {
		t.Fatalf("seed cookie file: %v", err)
	}
	e := &Extractor{CacheDir: dir, Getenv: envFrom(nil)}

	args := e.buildArgs("abc", filepath.Join(dir, "abc.download"))
	if got, ok := argValue(args, "--cookies"); !ok || got != cookiePath {
		t.Fatalf("expected existing cookie file to be passed, got %q", got)
	}
	if _, ok := argValue(args, "--extractor-args"); ok {
		t.Fatalf("unexpected extractor args without tokens")
	}
}

func TestBuildArgsTokenBundleNeedsBothHalves(t *testing.T) {
	dir := t.TempDir()
	e := &Extractor{CacheDir: dir, Getenv: envFrom(map[string]string{EnvPOToken: "tok"})}
	if _, ok := argValue(e.buildArgs("abc", "dest"), "--extractor-args"); ok {
		t.Fatalf("expected no extractor args with only a PO token")
	}

	e.Getenv = envFrom(map[string]string{EnvPOToken: "tok", EnvVisitorData: "vd"})
	got, ok := argValue(e.buildArgs("abc", "dest"), "--extractor-args")
	if !ok || got != "youtube:po_token=web+tok;visitor_data=vd" {
		t.Fatalf("unexpected extractor args %q", got)
	}
}

func TestBuildArgsWarnsWithoutCredentials(t *testing.T) {
	var logs bytes.Buffer
	e := &Extractor{
		CacheDir: t.TempDir(),
		Getenv:   envFrom(nil),
		Logger:   slog.New(slog.NewTextHandler(&logs, nil)),
	}
	args := e.buildArgs("abc", "dest")
	if _, ok := argValue(args, "--cookies"); ok {
		t.Fatalf("unexpected --cookies without material")
	}
	if !strings.Contains(logs.String(), "bot detection") {
		t.Fatalf("expected bot-detection warning, got %q", logs.String())
	}
}

func writeFakeTool(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "fake-yt-dlp")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake tool: %v", err)
	}
	return path
}

func TestExtractorDownloadSuccess(t *testing.T) {
	// The fake writes "audio" to the path following -o.
	tool := writeFakeTool(t, `while [ "$1" != "-o" ]; do shift; done; printf audio > "$2"`)
	dir := t.TempDir()
	dest := filepath.Join(dir, "abc.download")
	e := &Extractor{Binary: tool, CacheDir: dir, Getenv: envFrom(nil)}

	if err := e.Download(context.Background(), "abc", dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "audio" {
		t.Fatalf("expected fake output at dest, got %q (%v)", data, err)
	}
}

func TestExtractorDetectsSignInRequired(t *testing.T) {
	tool := writeFakeTool(t, `while [ "$1" != "-o" ]; do shift; done; printf partial > "$2"
echo "ERROR: [youtube] abc: Sign in to confirm you're not a bot" >&2
exit 1`)
	dir := t.TempDir()
	dest := filepath.Join(dir, "abc.download")
	var logs bytes.Buffer
	e := &Extractor{Binary: tool, CacheDir: dir, Getenv: envFrom(nil), Logger: slog.New(slog.NewTextHandler(&logs, nil))}

	err := e.Download(context.Background(), "abc", dest)
	if CategoryOf(err) != CategoryAuthRequired {
		t.Fatalf("expected auth_required, got %v", err)
	}
	if _, statErr := os.Stat(dest); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("expected partial output to be removed, stat err %v", statErr)
	}
	if !strings.Contains(logs.String(), "YOUTUBE_COOKIES") {
		t.Fatalf("expected cookie hint in logs, got %q", logs.String())
	}
}

func TestExtractorMissingBinary(t *testing.T) {
	dir := t.TempDir()
	e := &Extractor{Binary: filepath.Join(dir, "does-not-exist"), CacheDir: dir, Getenv: envFrom(nil)}
	err := e.Download(context.Background(), "abc", filepath.Join(dir, "abc.download"))
	if CategoryOf(err) != CategoryExtraction {
		t.Fatalf("expected extraction category, got %v", err)
	}
}
