//go:build linux

package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/genricoloni/ethist/internal/domain"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	statusPlaying = "Playing"
	statusPaused  = "Paused"
	statusStopped = "Stopped"

	sessionBuffer = 32
)

// playerSession is the event stream of one MPRIS player
type playerSession struct {
	logger *zap.Logger
	owner  *MprisMonitor
	creds  domain.Credentials
	events chan domain.PlayerEvent
	done   chan struct{}

	mu              sync.Mutex
	closed          bool
	lastTrack       string
	lastDropWarning time.Time
}

func newPlayerSession(logger *zap.Logger, owner *MprisMonitor, creds domain.Credentials) *playerSession {
	return &playerSession{
		logger: logger.With(zap.String("player", creds.Player)),
		owner:  owner,
		creds:  creds,
		events: make(chan domain.PlayerEvent, sessionBuffer),
		done:   make(chan struct{}),
	}
}

// ID returns the player's well-known bus name
func (s *playerSession) ID() string {
	return s.creds.Player
}

// Events returns the player's event stream
func (s *playerSession) Events() <-chan domain.PlayerEvent {
	return s.events
}

// Run blocks until the player leaves the bus, another player takes over or
// ctx is cancelled
func (s *playerSession) Run(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.end()
		return ctx.Err()
	}
}

// Close ends the session and detaches it from the monitor
func (s *playerSession) Close() error {
	s.owner.release(s)
	s.end()
	return nil
}

// end closes the stream. A track that is still announced is stopped first,
// otherwise the last song would outlive the session.
func (s *playerSession) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.lastTrack != "" {
		s.lastTrack = ""
		s.pushFinal(domain.PlayerEvent{Kind: domain.EventStopped})
	}
	s.closed = true
	close(s.done)
	close(s.events)
	s.logger.Debug("Player session ended")
}

// pushFinal queues ev, discarding the oldest pending event when the stream is
// full. s.mu must be held.
func (s *playerSession) pushFinal(ev domain.PlayerEvent) {
	select {
	case s.events <- ev:
		return
	default:
	}
	select {
	case <-s.events:
	default:
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("Session event stream full, dropping final event",
			zap.Stringer("kind", ev.Kind))
	}
}

// update turns a property change into player events. A nil metadata map or an
// empty status means the property was not part of the change.
func (s *playerSession) update(metadata map[string]dbus.Variant, status string) {
	if status == statusStopped {
		s.setLastTrack("")
		s.emit(domain.PlayerEvent{Kind: domain.EventStopped})
		return
	}

	if metadata != nil {
		item := ParseItem(metadata)
		if item == nil {
			s.setLastTrack("")
		} else if identity := trackIdentity(metadata); s.swapLastTrack(identity) {
			s.logger.Info("Media change detected",
				zap.String("title", item.Name),
				zap.String("trackID", item.TrackID))
			s.emit(domain.PlayerEvent{Kind: domain.EventTrackChanged, Item: item})
		}
	}

	switch status {
	case statusPaused:
		s.emit(domain.PlayerEvent{Kind: domain.EventPaused})
	case statusPlaying:
		s.emit(domain.PlayerEvent{Kind: domain.EventPlaying})
	}
}

func (s *playerSession) setLastTrack(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTrack = identity
}

// swapLastTrack stores identity and reports whether it differs from the previous one
func (s *playerSession) swapLastTrack(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTrack == identity {
		return false
	}
	s.lastTrack = identity
	return true
}

// emit never blocks the signal goroutine; a full stream drops the event
func (s *playerSession) emit(ev domain.PlayerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.events <- ev:
	default:
		const warningInterval = 5 * time.Second
		if now := time.Now(); now.Sub(s.lastDropWarning) >= warningInterval {
			s.logger.Warn("Session event stream full, dropping event",
				zap.Stringer("kind", ev.Kind))
			s.lastDropWarning = now
		}
	}
}
