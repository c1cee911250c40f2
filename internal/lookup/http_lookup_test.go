package lookup

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/genricoloni/ethist/internal/config"
	"go.uber.org/zap"
)

func TestHTTPLookup_Get(t *testing.T) {
	tests := []struct {
		name          string
		trackID       string
		statusCode    int
		body          string
		expectedError string
		expectedBG    int64
	}{
		{
			name:       "Success - Colours Parsed",
			trackID:    "4uLU6hMCjMI75M1A2tKUQC",
			statusCode: http.StatusOK,
			body:       `{"lyrics":{"lines":[]},"colors":{"background":16744512,"text":-16777216,"highlightText":-1}}`,
			expectedBG: 0xFF8040,
		},
		{
			name:       "Success - Signed Background",
			trackID:    "abc",
			statusCode: http.StatusOK,
			body:       `{"colors":{"background":-8355712}}`,
			expectedBG: -8355712,
		},
		{
			name:       "Success - Unsigned Background",
			trackID:    "abc",
			statusCode: http.StatusOK,
			body:       `{"colors":{"background":4294934528,"text":4278190080}}`,
			expectedBG: 4294934528,
		},
		{
			name:          "Error - Not Found",
			trackID:       "missing",
			statusCode:    http.StatusNotFound,
			expectedError: "no lyrics for track",
		},
		{
			name:          "Error - Server Error",
			trackID:       "abc",
			statusCode:    http.StatusInternalServerError,
			expectedError: "unexpected status code: 500",
		},
		{
			name:          "Error - Invalid JSON",
			trackID:       "abc",
			statusCode:    http.StatusOK,
			body:          `{"colors":`,
			expectedError: "parse json",
		},
		{
			name:          "Error - Empty Track ID",
			trackID:       "",
			expectedError: "empty track id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.HasSuffix(r.URL.Path, "/"+tt.trackID) {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if r.URL.Query().Get("format") != "json" {
					t.Errorf("missing format=json query")
				}
				if got := r.Header.Get("Authorization"); got != "Bearer secret" {
					t.Errorf("Authorization: got %q", got)
				}
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			l := NewHTTPLookupWithClient(zap.NewNop(), server.Client(), server.URL+"/color-lyrics/", "secret", 100)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			lyrics, err := l.Get(ctx, nil, tt.trackID)
			if tt.expectedError != "" {
				if err == nil {
					t.Fatalf("expected error containing '%s', got nil", tt.expectedError)
				}
				if !strings.Contains(err.Error(), tt.expectedError) {
					t.Errorf("expected error '%s' to contain '%s'", err.Error(), tt.expectedError)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if lyrics.Colors.Background != tt.expectedBG {
				t.Errorf("Background: want %d, got %d", tt.expectedBG, lyrics.Colors.Background)
			}
		})
	}
}

func TestHTTPLookup_Disabled(t *testing.T) {
	l := NewHTTPLookup(zap.NewNop(), config.Default())

	_, err := l.Get(context.Background(), nil, "abc")
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestHTTPLookup_RateLimitHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"colors":{"background":1}}`))
	}))
	defer server.Close()

	// one request per minute: the second call cannot get a token before its deadline
	l := NewHTTPLookupWithClient(zap.NewNop(), server.Client(), server.URL, "", 1.0/60)

	if _, err := l.Get(context.Background(), nil, "first"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := l.Get(ctx, nil, "second")
	if err == nil || !strings.Contains(err.Error(), "rate limit") {
		t.Errorf("expected rate limit error, got %v", err)
	}
}
