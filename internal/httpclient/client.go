// Package httpclient provides the HTTP client used for upstream playlist
// and EPG fetches: bounded retries with exponential backoff, optional
// transparent decompression, and structured logging with credential
// obfuscation.
//
// Mirror revalidation disables decompression so gzip feeds are stored
// byte-for-byte as served; parse-direct fetches enable it.
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// ErrMaxRetries is returned when every attempt failed.
var ErrMaxRetries = errors.New("max retries exceeded")

// Default configuration values.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultRetryAttempts = 1
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultRetryMaxDelay = 10 * time.Second
	DefaultUserAgent     = "epgview-httpclient/1.0"

	acceptEncodingHeader = "gzip, deflate, br"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	// Timeout is the overall request timeout.
	Timeout time.Duration

	// RetryAttempts is the number of retry attempts after the first try.
	RetryAttempts int

	// RetryDelay is the initial delay between retries; it doubles per
	// attempt up to RetryMaxDelay.
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// Logger is the structured logger for request/response logging.
	Logger *slog.Logger

	// EnableDecompression transparently decodes gzip/deflate/brotli
	// response bodies.
	EnableDecompression bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		UserAgent:           DefaultUserAgent,
		Logger:              slog.Default(),
		EnableDecompression: true,
	}
}

// Client is a retrying HTTP client for upstream feeds.
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a new client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: cfg.Logger,
	}
}

// Do executes a request, retrying on transport errors and retryable status
// codes. 304 responses are returned as-is.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.EnableDecompression && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncodingHeader)
	}

	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", obfuscateURL(req.URL)),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			delay *= 2
			if delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}

			// A retry after a server error goes out unconditional so a
			// flapping upstream cannot answer 304 against stale validators.
			req.Header.Del("If-None-Match")
			req.Header.Del("If-Modified-Since")
		}

		start := time.Now()
		resp, err := c.client.Do(req.Clone(ctx))
		duration := time.Since(start)

		if err != nil {
			lastErr = err
			c.logger.Warn("request failed",
				slog.String("url", obfuscateURL(req.URL)),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
			)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("retryable status code: %d", resp.StatusCode)
			c.logger.Warn("retryable status code",
				slog.String("url", obfuscateURL(req.URL)),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt),
			)
			resp.Body.Close()
			continue
		}

		c.logger.Debug("request completed",
			slog.String("url", obfuscateURL(req.URL)),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", duration),
			slog.Int64("content_length", resp.ContentLength),
		)

		if c.config.EnableDecompression {
			resp.Body = c.wrapDecompression(resp)
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

// Get performs a GET request to the specified URL.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// wrapDecompression wraps the response body with appropriate decompression.
func (c *Client) wrapDecompression(resp *http.Response) io.ReadCloser {
	encoding := resp.Header.Get("Content-Encoding")
	if encoding == "" {
		return resp.Body
	}

	switch strings.ToLower(encoding) {
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()),
			)
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}

	case "deflate":
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}

	case "br":
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}

	default:
		return resp.Body
	}
}

// decompressReader wraps a decompression reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

// isRetryableStatus returns true if the HTTP status code warrants a retry.
func isRetryableStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// obfuscateURL returns a URL string with sensitive query parameters hidden.
func obfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	sanitized := *u
	query := sanitized.Query()
	for _, param := range []string{"password", "token", "api_key", "apikey", "secret", "auth"} {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}
	sanitized.RawQuery = query.Encode()
	return sanitized.String()
}
