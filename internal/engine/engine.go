package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/genricoloni/ethist/internal/domain"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MessagePump applies domain messages to the playback state
type MessagePump interface {
	Pump(ctx context.Context, in <-chan domain.Message) error
}

// SessionLoop handles pairings until its context ends
type SessionLoop interface {
	Run(ctx context.Context) error
}

// EnrichmentTracker waits for in-flight enrichment tasks
type EnrichmentTracker interface {
	Wait()
}

// StatusServer is the optional HTTP view of the playback state
type StatusServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// Engine owns the daemon's background work: the session loop producing
// messages and the pump applying them to the playback state.
type Engine struct {
	logger     *zap.Logger
	pump       MessagePump
	loop       SessionLoop
	enrichment EnrichmentTracker
	server     StatusServer
	messages   <-chan domain.Message
	shutdowner fx.Shutdowner

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	loopErr error
	pumpErr error
}

// NewEngine creates a new orchestration engine
func NewEngine(
	logger *zap.Logger,
	pump MessagePump,
	loop SessionLoop,
	enrichment EnrichmentTracker,
	server StatusServer,
	messages <-chan domain.Message,
	shutdowner fx.Shutdowner,
) *Engine {
	return &Engine{
		logger:     logger,
		pump:       pump,
		loop:       loop,
		enrichment: enrichment,
		server:     server,
		messages:   messages,
		shutdowner: shutdowner,
	}
}

// Start launches the pump and the session loop in goroutines.
// It returns immediately (non-blocking). The goroutines outlive ctx, which
// only bounds startup; Stop ends them.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Engine starting...")

	if err := e.server.Start(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(2)
	go e.runPump(runCtx)
	go e.runLoop(runCtx)
	return nil
}

func (e *Engine) runPump(ctx context.Context) {
	defer e.wg.Done()
	err := e.pump.Pump(ctx, e.messages)

	e.mu.Lock()
	e.pumpErr = err
	e.mu.Unlock()
}

// runLoop asks the application to shut down when the loop ends on its own:
// with exit code 1 after a fatal error, cleanly once discovery closed.
func (e *Engine) runLoop(ctx context.Context) {
	defer e.wg.Done()
	err := e.loop.Run(ctx)

	e.mu.Lock()
	e.loopErr = err
	e.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	if err != nil {
		e.logger.Error("Session loop aborted", zap.Error(err))
		if serr := e.shutdowner.Shutdown(fx.ExitCode(1)); serr != nil {
			e.logger.Error("Failed to request shutdown", zap.Error(serr))
		}
		return
	}

	e.logger.Info("Session loop finished")
	if serr := e.shutdowner.Shutdown(); serr != nil {
		e.logger.Error("Failed to request shutdown", zap.Error(serr))
	}
}

// Stop cancels the background work, waits for it and for in-flight
// enrichment, then stops the status server
func (e *Engine) Stop(ctx context.Context) error {
	e.logger.Info("Engine stopping...")

	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.enrichment.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}

	e.mu.Lock()
	err = multierr.Combine(err, ignoreCanceled(e.loopErr), ignoreCanceled(e.pumpErr))
	e.mu.Unlock()

	err = multierr.Append(err, e.server.Stop(ctx))

	if err != nil {
		e.logger.Warn("Engine stopped with errors", zap.Error(err))
		return err
	}
	e.logger.Info("Engine stopped")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
