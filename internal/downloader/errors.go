package downloader

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// Category classifies a failure for logging, status mapping and exit codes.
type Category string

const (
	CategoryUnknown      Category = "unknown"
	CategoryInput        Category = "input"
	CategoryUpstream     Category = "upstream"
	CategoryNetwork      Category = "network"
	CategoryTimeout      Category = "timeout"
	CategoryProtocol     Category = "protocol"
	CategoryExtraction   Category = "extraction"
	CategoryAuthRequired Category = "auth_required"
	CategoryCache        Category = "cache"
	CategoryNoAudio      Category = "no_audio"
)

// CategorizedError attaches a Category to an underlying error.
type CategorizedError struct {
	Category Category
	Err      error
}

func (e CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e CategorizedError) Unwrap() error {
	return e.Err
}

func wrapCategory(category Category, err error) error {
	if err == nil {
		return nil
	}
	return CategorizedError{Category: category, Err: err}
}

// Wrap is wrapCategory for callers outside the package.
func Wrap(category Category, err error) error {
	return wrapCategory(category, err)
}

// CategoryOf returns the innermost explicit category of err, falling back to
// inspecting well-known error types.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var ce CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}
	return CategoryUnknown
}

// classifyTransport picks network or timeout for an error returned by the
// HTTP client.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if CategoryOf(err) == CategoryTimeout {
		return wrapCategory(CategoryTimeout, err)
	}
	return wrapCategory(CategoryNetwork, err)
}

// signInMarker is the fragment the upstream uses when it refuses anonymous access.
const signInMarker = "sign in to confirm"

// IsAuthRequired reports whether err carries the upstream sign-in marker.
func IsAuthRequired(err error) bool {
	if err == nil {
		return false
	}
	if CategoryOf(err) == CategoryAuthRequired {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), signInMarker)
}

// ExitCode maps an error to a process exit code. Larger is worse.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CategoryOf(err) {
	case CategoryInput:
		return 2
	case CategoryNoAudio:
		return 3
	case CategoryUpstream, CategoryProtocol:
		return 4
	case CategoryNetwork, CategoryTimeout:
		return 5
	case CategoryAuthRequired, CategoryExtraction:
		return 6
	case CategoryCache:
		return 7
	default:
		return 1
	}
}
