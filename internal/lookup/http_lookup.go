package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/genricoloni/ethist/internal/config"
	"github.com/genricoloni/ethist/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const _maxResponseSize = 256 * 1024

// ErrDisabled is returned by every Get when no lookup URL is configured
var ErrDisabled = errors.New("lookup disabled")

// ErrNotFound is returned when the service has no data for a track
var ErrNotFound = errors.New("no lyrics for track")

// HTTPLookup queries a lyrics/metadata service for the colours of a track
type HTTPLookup struct {
	logger  *zap.Logger
	client  *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
}

// NewHTTPLookup creates a lookup client from the application configuration
func NewHTTPLookup(logger *zap.Logger, cfg *config.AppConfig) *HTTPLookup {
	return NewHTTPLookupWithClient(logger, &http.Client{Timeout: cfg.FetchTimeout}, cfg.LookupURL, cfg.LookupToken, cfg.LookupRPS)
}

// NewHTTPLookupWithClient creates a lookup client around an existing HTTP client
func NewHTTPLookupWithClient(logger *zap.Logger, client *http.Client, baseURL, token string, rps float64) *HTTPLookup {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &HTTPLookup{
		logger:  logger,
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Get returns the lyrics colours of trackID
func (l *HTTPLookup) Get(ctx context.Context, sess domain.Session, trackID string) (*domain.Lyrics, error) {
	if l.baseURL == "" {
		return nil, ErrDisabled
	}
	if trackID == "" {
		return nil, fmt.Errorf("empty track id")
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	endpoint := l.baseURL + "/" + url.PathEscape(trackID) + "?format=json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, _maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var lyrics domain.Lyrics
	if err := json.Unmarshal(body, &lyrics); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}

	fields := []zap.Field{zap.String("track", trackID)}
	if sess != nil {
		fields = append(fields, zap.String("session", sess.ID()))
	}
	l.logger.Debug("Lyrics colours fetched", fields...)

	return &lyrics, nil
}
