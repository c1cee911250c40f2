package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/ethist/internal/config"
	"github.com/genricoloni/ethist/internal/domain"
	"go.uber.org/zap"
)

// EventTranslator drives one session's event stream into domain messages
type EventTranslator interface {
	Run(ctx context.Context, sess domain.Session, out chan<- domain.Message) error
}

// Loop waits for pairings and supervises one session at a time
type Loop struct {
	logger     *zap.Logger
	discovery  domain.Discovery
	protocol   domain.Protocol
	translator EventTranslator
	out        chan<- domain.Message
	policy     config.FatalPolicy
	retryDelay time.Duration
}

// NewLoop creates the discovery and session loop
func NewLoop(
	logger *zap.Logger,
	cfg *config.AppConfig,
	discovery domain.Discovery,
	protocol domain.Protocol,
	translator EventTranslator,
	out chan<- domain.Message,
) *Loop {
	return &Loop{
		logger:     logger,
		discovery:  discovery,
		protocol:   protocol,
		translator: translator,
		out:        out,
		policy:     cfg.FatalPolicy,
		retryDelay: cfg.RetryDelay,
	}
}

// Run launches discovery and then handles one pairing after another until
// ctx is cancelled, discovery closes, or a fatal condition aborts the loop.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.launch(ctx); err != nil {
		return err
	}
	defer func() {
		if err := l.discovery.Close(); err != nil {
			l.logger.Warn("Failed to close discovery", zap.Error(err))
		}
	}()

	for {
		l.logger.Info("Waiting for a controller to connect")

		creds, err := l.discovery.Next(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrDiscoveryClosed) {
				l.logger.Info("Discovery closed, session loop finished")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("discovery: %w", err)
		}

		l.logger.Info("Credentials received", zap.String("player", creds.Player))

		sess, err := l.protocol.Connect(ctx, creds)
		if err != nil {
			if ferr := l.fatal(ctx, "Session construction failed", err); ferr != nil {
				return ferr
			}
			continue
		}

		l.supervise(ctx, sess)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (l *Loop) launch(ctx context.Context) error {
	for {
		err := l.discovery.Launch(ctx)
		if err == nil {
			l.logger.Info("Discovery launched")
			return nil
		}
		if ferr := l.fatal(ctx, "Discovery launch failed", err); ferr != nil {
			return ferr
		}
	}
}

// fatal applies the configured policy. A nil result means "try again".
func (l *Loop) fatal(ctx context.Context, what string, err error) error {
	if l.policy != config.PolicyRetry {
		l.logger.Error(what+", aborting", zap.Error(err))
		return fmt.Errorf("%s: %w", what, err)
	}

	l.logger.Warn(what+", retrying",
		zap.Duration("delay", l.retryDelay),
		zap.Error(err))

	timer := time.NewTimer(l.retryDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// supervise runs the session's control task next to the translator.
// Whichever ends first tears the pairing down; both are joined before returning.
func (l *Loop) supervise(ctx context.Context, sess domain.Session) {
	pairCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.logger.Info("Session started", zap.String("session", sess.ID()))

	var wg sync.WaitGroup
	var controlErr, translateErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		controlErr = sess.Run(pairCtx)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		// enrichment started by the translator lives on the loop context,
		// the pairing only ends when the event stream does
		translateErr = l.translator.Run(ctx, sess, l.out)
	}()

	<-pairCtx.Done()
	// unblocks the translator if the control task returned without
	// closing the stream
	if err := sess.Close(); err != nil {
		l.logger.Warn("Failed to close session", zap.String("session", sess.ID()), zap.Error(err))
	}
	wg.Wait()

	if controlErr != nil && !errors.Is(controlErr, context.Canceled) {
		l.logger.Warn("Session control task failed", zap.String("session", sess.ID()), zap.Error(controlErr))
	}
	if translateErr != nil && !errors.Is(translateErr, context.Canceled) {
		l.logger.Warn("Event translator failed", zap.String("session", sess.ID()), zap.Error(translateErr))
	}

	l.logger.Info("Session ended", zap.String("session", sess.ID()))
}
