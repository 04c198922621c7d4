package mesh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for downloads.
	DefaultFetchTimeout = 10 * time.Minute

	// DefaultMaxRetries is the default number of retry attempts.
	DefaultMaxRetries = 3

	// defaultBaseBackoff is the base delay for exponential backoff.
	defaultBaseBackoff = 500 * time.Millisecond

	// DefaultMaxBagBytes limits a downloaded bag to 16 GiB.
	DefaultMaxBagBytes int64 = 16 << 30
)

// FetchOption configures FetchBag behavior.
type FetchOption func(*fetchConfig)

type fetchConfig struct {
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBytes    int64
	client      *http.Client
}

func defaultFetchConfig() fetchConfig {
	return fetchConfig{
		timeout:     DefaultFetchTimeout,
		maxRetries:  DefaultMaxRetries,
		baseBackoff: defaultBaseBackoff,
		maxBytes:    DefaultMaxBagBytes,
	}
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) FetchOption {
	return func(c *fetchConfig) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the base delay for exponential backoff between retries.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(c *fetchConfig) {
		c.baseBackoff = d
	}
}

// WithMaxBytes limits the size of a download.
func WithMaxBytes(n int64) FetchOption {
	return func(c *fetchConfig) {
		c.maxBytes = n
	}
}

// WithHTTPClient overrides the default HTTP client (useful for testing).
func WithHTTPClient(client *http.Client) FetchOption {
	return func(c *fetchConfig) {
		c.client = client
	}
}

// IsRemote reports whether input names an http(s) URL.
func IsRemote(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// FetchBag downloads a bag from rawURL into a new file in dir and returns
// its path. Transient failures are retried with exponential backoff; a
// response that is not a bag fails immediately. The caller owns the file.
func FetchBag(ctx context.Context, rawURL, dir string, opts ...FetchOption) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("fetch bag: URL is empty")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch bag: %w", err)
	}

	cfg := defaultFetchConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	client := cfg.client
	if client == nil {
		client = &http.Client{Timeout: cfg.timeout}
	}

	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		name = "input.bag"
	}

	var lastErr error
	for attempt := range cfg.maxRetries {
		if attempt > 0 {
			backoff := cfg.baseBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("fetch bag: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		p, err := downloadOnce(ctx, client, rawURL, dir, name, cfg.maxBytes)
		if err == nil {
			return p, nil
		}
		var perm permanentError
		if errors.As(err, &perm) || ctx.Err() != nil {
			return "", fmt.Errorf("fetch bag: %w", err)
		}
		lastErr = err
	}

	return "", fmt.Errorf("fetch bag: all %d attempts failed: %w", cfg.maxRetries, lastErr)
}

// downloadOnce performs a single GET into a temp file, removing it on error.
func downloadOnce(ctx context.Context, client *http.Client, rawURL, dir, name string, maxBytes int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", permanentError{fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP GET %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP GET %s: status %d", rawURL, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return "", permanentError{err}
		}
		return "", err
	}
	if resp.ContentLength > maxBytes {
		return "", permanentError{fmt.Errorf("HTTP GET %s: %d bytes exceeds limit of %d", rawURL, resp.ContentLength, maxBytes)}
	}

	magic := make([]byte, len(bagMagic))
	if _, err := io.ReadFull(resp.Body, magic); err != nil {
		return "", permanentError{fmt.Errorf("reading %s: not a bag: %w", rawURL, err)}
	}
	if !bytes.Equal(magic, []byte(bagMagic)) {
		return "", permanentError{fmt.Errorf("reading %s: not a ROS bag v2.0", rawURL)}
	}

	f, err := os.CreateTemp(dir, "*-"+name)
	if err != nil {
		return "", permanentError{fmt.Errorf("creating download file: %w", err)}
	}
	ok := false
	defer func() {
		if !ok {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(magic); err != nil {
		return "", permanentError{err}
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxBytes-int64(len(magic))+1))
	if err != nil {
		return "", fmt.Errorf("reading response from %s: %w", rawURL, err)
	}
	if n+int64(len(magic)) > maxBytes {
		return "", permanentError{fmt.Errorf("HTTP GET %s: body exceeds limit of %d bytes", rawURL, maxBytes)}
	}
	if err := f.Close(); err != nil {
		return "", permanentError{err}
	}
	ok = true
	return f.Name(), nil
}
