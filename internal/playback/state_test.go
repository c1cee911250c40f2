package playback

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/genricoloni/ethist/internal/domain"
	"github.com/genricoloni/ethist/internal/domain/mocks"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func announce(key domain.TrackKey, name string) domain.SongAnnounced {
	return domain.SongAnnounced{Song: domain.Song{Key: key, Name: name, Artist: "X, Y", LengthMs: 200000}}
}

func TestApply_Sequence(t *testing.T) {
	ctrl := gomock.NewController(t)
	loader := mocks.NewMockCoverLoader(ctrl)
	cover := &domain.Cover{Path: "/cache/a", Image: image.NewRGBA(image.Rect(0, 0, 1, 1))}
	loader.EXPECT().Load(gomock.Any(), "/cache/a").Return(cover, nil)

	s := NewState(zap.NewNop(), loader)
	ctx := context.Background()

	if s.Screen() != ScreenClock {
		t.Errorf("empty state should show the clock")
	}

	s.Apply(ctx, announce(1, "Song A"))
	if s.Screen() != ScreenMusic {
		t.Errorf("current song should show the music screen")
	}

	s.Apply(ctx, domain.CoverResolved{Key: 1, Path: "/cache/a"})
	s.Apply(ctx, domain.ColorResolved{Key: 1, Color: domain.RGB{R: 85, G: 42, B: 21}})

	song, ok := s.Current()
	if !ok {
		t.Fatal("expected a current song")
	}
	if song.Cover != cover {
		t.Errorf("cover not applied")
	}
	if song.Accent == nil || *song.Accent != (domain.RGB{R: 85, G: 42, B: 21}) {
		t.Errorf("accent not applied: %+v", song.Accent)
	}

	s.Apply(ctx, domain.SongStopped{})
	if _, ok := s.Current(); ok {
		t.Error("SongStopped must clear the current song")
	}
	if s.Screen() != ScreenClock {
		t.Error("stopped state should show the clock")
	}
}

func TestApply_AnnouncementResetsEnrichment(t *testing.T) {
	s := NewState(zap.NewNop(), nil)
	ctx := context.Background()

	s.Apply(ctx, announce(1, "A"))
	s.Apply(ctx, domain.ColorResolved{Key: 1, Color: domain.RGB{R: 1}})

	withLeftovers := announce(2, "B")
	withLeftovers.Song.Accent = &domain.RGB{R: 9}
	s.Apply(ctx, withLeftovers)

	song, _ := s.Current()
	if song.Key != 2 || song.Accent != nil || song.Cover != nil {
		t.Errorf("announcement must replace the song wholesale: %+v", song)
	}
}

func TestApply_StaleEnrichmentIsDropped(t *testing.T) {
	tests := []struct {
		name string
		prep []domain.Message
		msg  domain.Message
	}{
		{
			name: "Colour For Previous Track",
			prep: []domain.Message{announce(1, "A"), announce(2, "B")},
			msg:  domain.ColorResolved{Key: 1, Color: domain.RGB{R: 255}},
		},
		{
			name: "Cover For Previous Track",
			prep: []domain.Message{announce(1, "A"), announce(2, "B")},
			msg:  domain.CoverResolved{Key: 1, Path: "/cache/a"},
		},
		{
			name: "Colour After Stop",
			prep: []domain.Message{announce(1, "A"), domain.SongStopped{}},
			msg:  domain.ColorResolved{Key: 1, Color: domain.RGB{R: 255}},
		},
		{
			name: "Cover After Stop",
			prep: []domain.Message{announce(1, "A"), domain.SongStopped{}},
			msg:  domain.CoverResolved{Key: 1, Path: "/cache/a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			loader := mocks.NewMockCoverLoader(ctrl)
			loader.EXPECT().Load(gomock.Any(), gomock.Any()).Times(0)

			s := NewState(zap.NewNop(), loader)
			ctx := context.Background()
			for _, m := range tt.prep {
				s.Apply(ctx, m)
			}
			before, hadSong := s.Current()

			if changed := s.Apply(ctx, tt.msg); changed {
				t.Error("stale message reported a change")
			}

			after, hasSong := s.Current()
			if hadSong != hasSong {
				t.Fatalf("stale message changed presence of song: %v -> %v", hadSong, hasSong)
			}
			if hasSong && (after.Key != before.Key || after.Accent != nil || after.Cover != nil) {
				t.Errorf("stale message leaked into current song: %+v", after)
			}
		})
	}
}

func TestApply_CoverChangedWhileLoading(t *testing.T) {
	ctrl := gomock.NewController(t)
	loader := mocks.NewMockCoverLoader(ctrl)

	s := NewState(zap.NewNop(), loader)
	ctx := context.Background()
	s.Apply(ctx, announce(1, "A"))

	loader.EXPECT().Load(gomock.Any(), "/cache/a").DoAndReturn(func(ctx context.Context, path string) (*domain.Cover, error) {
		// a new track is announced while the old cover decodes
		s.Apply(ctx, announce(2, "B"))
		return &domain.Cover{Path: path}, nil
	})

	if s.Apply(ctx, domain.CoverResolved{Key: 1, Path: "/cache/a"}) {
		t.Error("cover for a replaced song must not apply")
	}
	song, _ := s.Current()
	if song.Key != 2 || song.Cover != nil {
		t.Errorf("unexpected song: %+v", song)
	}
}

func TestApply_CoverLoadFailureKeepsPlaceholder(t *testing.T) {
	ctrl := gomock.NewController(t)
	loader := mocks.NewMockCoverLoader(ctrl)
	loader.EXPECT().Load(gomock.Any(), gomock.Any()).Return(nil, errors.New("failed to decode image"))

	s := NewState(zap.NewNop(), loader)
	s.Apply(context.Background(), announce(1, "A"))

	if s.Apply(context.Background(), domain.CoverResolved{Key: 1, Path: "/cache/bad"}) {
		t.Error("failed load should not report a change")
	}
	song, _ := s.Current()
	if song.Cover != nil {
		t.Error("cover should stay empty")
	}
}

func TestApply_StopWhenIdle(t *testing.T) {
	s := NewState(zap.NewNop(), nil)
	v := s.Version()
	if s.Apply(context.Background(), domain.SongStopped{}) {
		t.Error("stop while idle should not report a change")
	}
	if s.Version() != v {
		t.Error("version should not move")
	}
}

func TestPump(t *testing.T) {
	s := NewState(zap.NewNop(), nil)
	in := NewMessageChannel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Pump(ctx, in) }()

	in <- announce(1, "A")
	in <- domain.ColorResolved{Key: 1, Color: domain.RGB{G: 3}}

	deadline := time.After(time.Second)
	for {
		if song, ok := s.Current(); ok && song.Accent != nil {
			break
		}
		select {
		case <-deadline:
			t.Fatal("messages were not applied")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Pump did not stop")
	}
}
