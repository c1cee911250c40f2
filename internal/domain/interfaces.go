package domain

import (
	"context"
	"errors"
)

// ErrDiscoveryClosed is returned by Discovery.Next once no more credentials will arrive
var ErrDiscoveryClosed = errors.New("discovery closed")

// Discovery yields credentials each time a remote controller pairs with this device
//
//go:generate mockgen -destination=mocks/domain_mock.go -package=mocks github.com/genricoloni/ethist/internal/domain ContentCache,CoverLoader,Discovery,Fetcher,Lookup,Protocol,Session
type Discovery interface {
	// Launch starts listening for controllers
	Launch(ctx context.Context) error

	// Next blocks until the next credentials are available.
	// It returns ErrDiscoveryClosed after Close.
	Next(ctx context.Context) (Credentials, error)

	// Close stops the listener
	Close() error
}

// Protocol opens sessions against the remote control protocol
type Protocol interface {
	// Connect consumes credentials and returns a live session
	Connect(ctx context.Context, creds Credentials) (Session, error)
}

// Session is one live connection to the remote control protocol
type Session interface {
	// ID identifies the session in logs
	ID() string

	// Events returns the native event stream. It is closed when the session ends.
	Events() <-chan PlayerEvent

	// Run is the protocol's control task. It blocks until the session ends
	// or ctx is cancelled, and closes the event stream before returning.
	Run(ctx context.Context) error

	// Close releases the session and closes the event stream.
	// It is safe to call more than once.
	Close() error
}

// Lookup resolves supplementary track metadata (lyrics colours)
type Lookup interface {
	Get(ctx context.Context, sess Session, trackID string) (*Lyrics, error)
}

// Fetcher defines the interface for retrieving remote resources
type Fetcher interface {
	// Fetch downloads the resource at url
	// Returns the raw bytes or an error
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ContentCache maps a URL to a local file holding its bytes
type ContentCache interface {
	Resolve(ctx context.Context, url string) (string, error)
}

// CoverLoader turns a cached cover file into a drawable handle
type CoverLoader interface {
	Load(ctx context.Context, path string) (*Cover, error)
}
