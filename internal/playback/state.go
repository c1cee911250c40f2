package playback

import (
	"context"
	"sync"

	"github.com/genricoloni/ethist/internal/domain"
	"go.uber.org/zap"
)

// messageBuffer matches the depth of the session's outbound stream
const messageBuffer = 100

// Screen is the view the display should show
type Screen string

const (
	// ScreenClock is shown while nothing plays
	ScreenClock Screen = "clock"
	// ScreenMusic is shown while a song is current
	ScreenMusic Screen = "music"
)

// NewMessageChannel creates the ordered stream between the session bridge and the state
func NewMessageChannel() chan domain.Message {
	return make(chan domain.Message, messageBuffer)
}

// State owns the current song. It is only changed through domain messages.
type State struct {
	logger  *zap.Logger
	loader  domain.CoverLoader
	mu      sync.RWMutex
	song    *domain.Song
	version uint64
}

// NewState creates an empty playback state
func NewState(logger *zap.Logger, loader domain.CoverLoader) *State {
	return &State{
		logger: logger,
		loader: loader,
	}
}

// Pump applies messages from in, one at a time, until ctx ends or in is closed
func (s *State) Pump(ctx context.Context, in <-chan domain.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			s.Apply(ctx, msg)
		}
	}
}

// Apply updates the state with msg and reports whether anything changed.
// Enrichment results for any song other than the current one are dropped.
func (s *State) Apply(ctx context.Context, msg domain.Message) bool {
	switch m := msg.(type) {
	case domain.SongAnnounced:
		song := m.Song
		song.Cover = nil
		song.Accent = nil
		s.mu.Lock()
		s.song = &song
		s.version++
		s.mu.Unlock()
		return true

	case domain.SongStopped:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.song == nil {
			return false
		}
		s.song = nil
		s.version++
		return true

	case domain.CoverResolved:
		if !s.isCurrent(m.Key) {
			s.logger.Debug("Dropping stale cover", zap.Uint64("key", uint64(m.Key)))
			return false
		}
		// decoding happens outside the lock, the key is checked again afterwards
		cover, err := s.loader.Load(ctx, m.Path)
		if err != nil {
			s.logger.Warn("Failed to load cover", zap.String("path", m.Path), zap.Error(err))
			return false
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.song == nil || s.song.Key != m.Key {
			s.logger.Debug("Dropping stale cover", zap.Uint64("key", uint64(m.Key)))
			return false
		}
		s.song.Cover = cover
		s.version++
		return true

	case domain.ColorResolved:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.song == nil || s.song.Key != m.Key {
			s.logger.Debug("Dropping stale colour", zap.Uint64("key", uint64(m.Key)))
			return false
		}
		color := m.Color
		s.song.Accent = &color
		s.version++
		return true

	default:
		s.logger.Warn("Unknown message type, ignoring")
		return false
	}
}

// Current returns a copy of the current song
func (s *State) Current() (domain.Song, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.song == nil {
		return domain.Song{}, false
	}
	return *s.song, true
}

// Version increases on every applied change
func (s *State) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Screen returns which view should be displayed
func (s *State) Screen() Screen {
	if _, ok := s.Current(); ok {
		return ScreenMusic
	}
	return ScreenClock
}

func (s *State) isCurrent(key domain.TrackKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.song != nil && s.song.Key == key
}
