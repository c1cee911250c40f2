package translator

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/genricoloni/ethist/internal/domain"
	"github.com/genricoloni/ethist/internal/enrich"
	"go.uber.org/zap"
)

const localArtist = "local"

// Enricher resolves supplementary data for an announced track
type Enricher interface {
	Enrich(ctx context.Context, sess domain.Session, req enrich.Request, out chan<- domain.Message)
}

// Translator turns a session's native player events into domain messages.
// One Translator serves every session of the process so track keys never repeat.
type Translator struct {
	logger   *zap.Logger
	enricher Enricher
	lastKey  atomic.Uint64
	inflight sync.WaitGroup
}

// NewTranslator creates a new event translator
func NewTranslator(logger *zap.Logger, enricher Enricher) *Translator {
	return &Translator{
		logger:   logger,
		enricher: enricher,
	}
}

// Run consumes sess.Events() until the stream is closed (returns nil) or ctx
// is cancelled (returns ctx.Err()). Enrichment started here keeps running
// after Run returns and is bound to ctx only.
func (t *Translator) Run(ctx context.Context, sess domain.Session, out chan<- domain.Message) error {
	events := sess.Events()
	playing := false

	t.logger.Info("Translating session events", zap.String("session", sess.ID()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				t.logger.Info("Session event stream ended", zap.String("session", sess.ID()))
				return nil
			}

			switch ev.Kind {
			case domain.EventTrackChanged:
				if ev.Item == nil {
					t.logger.Warn("Track changed event without metadata, ignoring")
					continue
				}
				if !t.announce(ctx, sess, ev.Item, out) {
					return ctx.Err()
				}
				playing = true

			case domain.EventStopped:
				if !send(ctx, out, domain.SongStopped{}) {
					return ctx.Err()
				}
				if playing {
					t.logger.Info("Playback stopped", zap.String("session", sess.ID()))
				}
				playing = false

			default:
				t.logger.Debug("Ignoring player event", zap.String("kind", ev.Kind.String()))
			}
		}
	}
}

// Wait blocks until every enrichment started by Run has finished
func (t *Translator) Wait() {
	t.inflight.Wait()
}

func (t *Translator) announce(ctx context.Context, sess domain.Session, item *domain.AudioItem, out chan<- domain.Message) bool {
	key := domain.TrackKey(t.lastKey.Add(1))
	song := SongFromItem(key, item)

	if !send(ctx, out, domain.SongAnnounced{Song: song}) {
		return false
	}

	t.logger.Info("Track changed",
		zap.Uint64("key", uint64(key)),
		zap.String("name", song.Name),
		zap.String("artist", song.Artist))

	req := enrich.Request{Key: key, CoverURL: song.CoverURL, TrackID: item.TrackID}
	t.inflight.Add(1)
	go func() {
		defer t.inflight.Done()
		t.enricher.Enrich(ctx, sess, req, out)
	}()
	return true
}

// SongFromItem builds the announced song: playing, at position zero, with no
// cover or accent yet
func SongFromItem(key domain.TrackKey, item *domain.AudioItem) domain.Song {
	var coverURL string
	if len(item.Covers) > 0 {
		coverURL = item.Covers[0].URL
	}
	return domain.Song{
		Key:        key,
		Paused:     false,
		Name:       item.Name,
		Artist:     ArtistOf(item.Unique),
		LengthMs:   item.DurationMs,
		PositionMs: 0,
		CoverURL:   coverURL,
	}
}

// ArtistOf picks the line shown under the title: the show for an episode,
// the tagged artist (or "local") for a local file, every artist for a track
func ArtistOf(fields domain.UniqueFields) string {
	switch f := fields.(type) {
	case domain.EpisodeFields:
		return f.ShowName
	case domain.LocalFields:
		if f.Artists != nil {
			return *f.Artists
		}
		return localArtist
	case domain.TrackFields:
		names := make([]string, 0, len(f.Artists))
		for _, a := range f.Artists {
			names = append(names, a.Name)
		}
		return strings.Join(names, ", ")
	default:
		return ""
	}
}

func send(ctx context.Context, out chan<- domain.Message, msg domain.Message) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
