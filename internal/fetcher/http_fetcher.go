package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/genricoloni/ethist/internal/config"
	"go.uber.org/zap"
)

const userAgent = "ethist/1.0"

// StatusError is returned when the server answers with a non-success status
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// HTTPFetcher handles downloading resources from HTTP/HTTPS URLs
type HTTPFetcher struct {
	logger   *zap.Logger
	client   *http.Client
	maxBytes int64
}

// NewHTTPFetcher creates a new HTTP-based fetcher instance.
// A zero FetchTimeout leaves requests bounded only by their context.
func NewHTTPFetcher(logger *zap.Logger, cfg *config.AppConfig) *HTTPFetcher {
	return NewHTTPFetcherWithClient(logger, &http.Client{Timeout: cfg.FetchTimeout}, cfg.MaxResourceBytes)
}

// NewHTTPFetcherWithClient creates a fetcher around an existing client.
// maxBytes <= 0 disables the size limit.
func NewHTTPFetcherWithClient(logger *zap.Logger, client *http.Client, maxBytes int64) *HTTPFetcher {
	return &HTTPFetcher{
		logger:   logger,
		client:   client,
		maxBytes: maxBytes,
	}
}

// Fetch downloads the full body of the given URL
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	var body io.Reader = resp.Body
	if f.maxBytes > 0 {
		// one extra byte tells an exact-size body apart from an oversized one
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", f.maxBytes)
	}

	f.logger.Debug("Resource fetched successfully", zap.Int("bytes", len(data)), zap.String("url", url))
	return data, nil
}
