package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const (
	// MetadataTimeout bounds a GET-JSON call including redirects.
	MetadataTimeout = 10 * time.Second
	// PostTimeout bounds a POST-JSON call.
	PostTimeout = 15 * time.Second
	// DownloadTimeout bounds a whole media download.
	DownloadTimeout = 60 * time.Second

	maxRedirects = 5
)

var sharedTransport = &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	TLSHandshakeTimeout:   10 * time.Second,
	ResponseHeaderTimeout: 15 * time.Second,
	IdleConnTimeout:       90 * time.Second,
}

func CloseIdleConnections() {
	sharedTransport.CloseIdleConnections()
}

type consistentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *consistentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	return t.base.RoundTrip(req)
}

// Client performs the three upstream primitives used by mirror adapters and
// the fetch pipeline. Redirects are followed manually so every hop stays
// under the caller's deadline.
type Client struct {
	httpClient *http.Client

	MetadataTimeout time.Duration
	PostTimeout     time.Duration
	DownloadTimeout time.Duration
}

// NewClient returns a Client on the shared transport with the desktop
// browser user-agent.
func NewClient() *Client {
	return newClientWithTransport(sharedTransport)
}

func newClientWithTransport(base http.RoundTripper) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &consistentTransport{base: base, userAgent: defaultUserAgent},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		MetadataTimeout: MetadataTimeout,
		PostTimeout:     PostTimeout,
		DownloadTimeout: DownloadTimeout,
	}
}

// GetJSON fetches rawURL and decodes the body into dst.
func (c *Client) GetJSON(ctx context.Context, rawURL string, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, c.MetadataTimeout)
	defer cancel()
	return c.getJSON(ctx, rawURL, dst, 0)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, dst any, hops int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return wrapCategory(CategoryInput, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	next, redirect, err := redirectTarget(resp, hops)
	if err != nil {
		return err
	}
	if redirect {
		return c.getJSON(ctx, next, dst, hops+1)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(fmt.Errorf("reading body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return wrapCategory(CategoryUpstream, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Host))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return wrapCategory(CategoryProtocol, fmt.Errorf("decoding JSON from %s: %w", req.URL.Host, err))
	}
	return nil
}

// PostJSON sends payload as JSON and decodes the response into dst.
// Error statuses with a JSON body are decoded as well, because extraction
// mirrors report failures in-band.
func (c *Client) PostJSON(ctx context.Context, rawURL string, payload, dst any) error {
	ctx, cancel := context.WithTimeout(ctx, c.PostTimeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return wrapCategory(CategoryInput, fmt.Errorf("encoding payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return wrapCategory(CategoryInput, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(fmt.Errorf("reading body: %w", err))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return wrapCategory(CategoryUpstream, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Host))
		}
		return wrapCategory(CategoryProtocol, fmt.Errorf("decoding JSON from %s: %w", req.URL.Host, err))
	}
	return nil
}

// Download streams rawURL into path. On any failure path does not exist when
// Download returns. The file is fully written and closed on success.
func (c *Client) Download(ctx context.Context, rawURL, path string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.DownloadTimeout)
	defer cancel()
	return c.download(ctx, rawURL, path, 0)
}

func (c *Client) download(ctx context.Context, rawURL, path string, hops int) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, wrapCategory(CategoryInput, fmt.Errorf("building request: %w", err))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, classifyTransport(err)
	}
	defer resp.Body.Close()

	next, redirect, err := redirectTarget(resp, hops)
	if err != nil {
		return 0, err
	}
	if redirect {
		return c.download(ctx, next, path, hops+1)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, wrapCategory(CategoryUpstream, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Host))
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, wrapCategory(CategoryCache, fmt.Errorf("opening temp file: %w", err))
	}
	written, err := io.Copy(file, resp.Body)
	if err != nil {
		file.Close()
		_ = os.Remove(path)
		return 0, classifyTransport(fmt.Errorf("download failed: %w", err))
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		file.Close()
		_ = os.Remove(path)
		return 0, wrapCategory(CategoryNetwork, fmt.Errorf("download truncated: got %d of %d bytes", written, resp.ContentLength))
	}
	if written == 0 {
		file.Close()
		_ = os.Remove(path)
		return 0, wrapCategory(CategoryUpstream, errors.New("upstream returned an empty body"))
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return 0, wrapCategory(CategoryCache, fmt.Errorf("closing temp file: %w", err))
	}
	return written, nil
}

// redirectTarget resolves the Location of a 3xx response.
func redirectTarget(resp *http.Response, hops int) (string, bool, error) {
	if resp.StatusCode < 300 || resp.StatusCode >= 400 || resp.Header.Get("Location") == "" {
		return "", false, nil
	}
	if hops >= maxRedirects {
		return "", false, wrapCategory(CategoryUpstream, fmt.Errorf("stopped after %d redirects", maxRedirects))
	}
	loc, err := resp.Location()
	if err != nil {
		return "", false, wrapCategory(CategoryProtocol, fmt.Errorf("bad redirect location: %w", err))
	}
	return loc.String(), true, nil
}
