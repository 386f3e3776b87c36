package links

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/halcyonlabs/halcyon/internal/retry"
)

// FetcherConfig configures page fetching.
type FetcherConfig struct {
	// Timeout bounds a single fetch attempt.
	Timeout time.Duration

	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64

	// UserAgent is sent with every request.
	UserAgent string

	// Retry configures the retry policy around transient failures.
	Retry retry.Config

	// Logger is an optional slog.Logger instance.
	Logger *slog.Logger
}

// Validate applies defaults.
func (c *FetcherConfig) Validate() error {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 2 << 20 // 2MB
	}
	if c.UserAgent == "" {
		c.UserAgent = "halcyon/1.0"
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Fetcher downloads page content over HTTP with bounded retries.
type Fetcher struct {
	config FetcherConfig
	client *http.Client
	logger *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(config FetcherConfig) *Fetcher {
	_ = config.Validate()
	return &Fetcher{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: config.Logger.With("component", "links"),
	}
}

// Fetch downloads the page at url and returns its body as text.
// Transient failures (timeouts, 429s, 5xx) are retried; client errors
// are not.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	return retry.DoWithValue(ctx, f.config.Retry, func(ctx context.Context) (string, error) {
		return f.fetchOnce(ctx, url)
	})
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
		if retry.RetryableStatus(resp.StatusCode) {
			return "", err
		}
		return "", retry.Permanent(err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}

	f.logger.Debug("fetched url", "url", url, "bytes", len(body))
	return string(body), nil
}
