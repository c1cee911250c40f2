package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/genricoloni/ethist/internal/domain"
	"github.com/genricoloni/ethist/internal/playback"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// blockingLoop runs until cancelled, or returns result once release is closed
type blockingLoop struct {
	result  error
	release chan struct{}
}

func (l *blockingLoop) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.release:
		return l.result
	}
}

type fakeTracker struct {
	mu     sync.Mutex
	waited int
}

func (f *fakeTracker) Wait() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waited++
}

type fakeServer struct {
	startErr error
	started  bool
	stopped  bool
}

func (f *fakeServer) Start() error {
	f.started = true
	return f.startErr
}

func (f *fakeServer) Stop(ctx context.Context) error {
	f.stopped = true
	return nil
}

type fakeShutdowner struct {
	calls chan int
}

func newFakeShutdowner() *fakeShutdowner {
	return &fakeShutdowner{calls: make(chan int, 1)}
}

func (f *fakeShutdowner) Shutdown(opts ...fx.ShutdownOption) error {
	f.calls <- len(opts)
	return nil
}

type stuckPump struct {
	release chan struct{}
}

func (p *stuckPump) Pump(ctx context.Context, in <-chan domain.Message) error {
	<-p.release
	return nil
}

func newTestEngine(loop SessionLoop, pump MessagePump, server *fakeServer, sd fx.Shutdowner, tracker *fakeTracker) (*Engine, chan domain.Message) {
	messages := playback.NewMessageChannel()
	if pump == nil {
		pump = playback.NewState(zap.NewNop(), nil)
	}
	return NewEngine(zap.NewNop(), pump, loop, tracker, server, messages, sd), messages
}

func TestEngineStartStop(t *testing.T) {
	server := &fakeServer{}
	tracker := &fakeTracker{}
	sd := newFakeShutdowner()
	e, _ := newTestEngine(&blockingLoop{release: make(chan struct{})}, nil, server, sd, tracker)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !server.started {
		t.Error("status server should be started")
	}

	if err := e.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if !server.stopped {
		t.Error("status server should be stopped")
	}
	if tracker.waited != 1 {
		t.Errorf("enrichment should be awaited once, got %d", tracker.waited)
	}

	select {
	case n := <-sd.calls:
		t.Errorf("Stop must not request a shutdown, got one with %d options", n)
	default:
	}
}

func TestEngineMessagesReachState(t *testing.T) {
	state := playback.NewState(zap.NewNop(), nil)
	e, messages := newTestEngine(&blockingLoop{release: make(chan struct{})}, state, &fakeServer{}, newFakeShutdowner(), &fakeTracker{})

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop(context.Background())

	messages <- domain.SongAnnounced{Song: domain.Song{Key: 1, Name: "Song A"}}

	deadline := time.After(time.Second)
	for {
		if song, ok := state.Current(); ok {
			if song.Name != "Song A" {
				t.Errorf("expected Song A, got %s", song.Name)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("message was not applied")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestEngineLoopEndRequestsShutdown(t *testing.T) {
	tests := []struct {
		name     string
		result   error
		wantOpts int
		wantErr  bool
	}{
		{name: "Fatal Error Exits With Code", result: errors.New("session construction failed"), wantOpts: 1, wantErr: true},
		{name: "Discovery Closed Exits Cleanly", result: nil, wantOpts: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loop := &blockingLoop{result: tt.result, release: make(chan struct{})}
			sd := newFakeShutdowner()
			e, _ := newTestEngine(loop, nil, &fakeServer{}, sd, &fakeTracker{})

			if err := e.Start(context.Background()); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			close(loop.release)

			select {
			case n := <-sd.calls:
				if n != tt.wantOpts {
					t.Errorf("shutdown options: want %d, got %d", tt.wantOpts, n)
				}
			case <-time.After(time.Second):
				t.Fatal("shutdown was not requested")
			}

			err := e.Stop(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Stop error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEngineStatusServerFailure(t *testing.T) {
	server := &fakeServer{startErr: errors.New("address in use")}
	e, _ := newTestEngine(&blockingLoop{release: make(chan struct{})}, nil, server, newFakeShutdowner(), &fakeTracker{})

	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}
	if err := e.Stop(context.Background()); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
}

func TestEngineStopDeadline(t *testing.T) {
	pump := &stuckPump{release: make(chan struct{})}
	defer close(pump.release)

	e, _ := newTestEngine(&blockingLoop{release: make(chan struct{})}, pump, &fakeServer{}, newFakeShutdowner(), &fakeTracker{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := e.Stop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}
