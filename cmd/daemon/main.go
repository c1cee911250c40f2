package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/genricoloni/ethist/internal/cache"
	"github.com/genricoloni/ethist/internal/config"
	"github.com/genricoloni/ethist/internal/domain"
	"github.com/genricoloni/ethist/internal/engine"
	"github.com/genricoloni/ethist/internal/enrich"
	"github.com/genricoloni/ethist/internal/fetcher"
	"github.com/genricoloni/ethist/internal/lookup"
	"github.com/genricoloni/ethist/internal/monitor"
	"github.com/genricoloni/ethist/internal/playback"
	"github.com/genricoloni/ethist/internal/processor"
	"github.com/genricoloni/ethist/internal/session"
	"github.com/genricoloni/ethist/internal/status"
	"github.com/genricoloni/ethist/internal/translator"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 10 * time.Second

// AppOptions is the daemon's dependency graph
var AppOptions = fx.Options(
	fx.Provide(
		config.Load,
		newLogger,
		processor.NewScreenResolution,
		playback.NewMessageChannel,
		messageSink,
		messageSource,

		fx.Annotate(fetcher.NewHTTPFetcher, fx.As(new(domain.Fetcher))),
		fx.Annotate(cache.NewHTTPCache, fx.As(new(domain.ContentCache))),
		fx.Annotate(lookup.NewHTTPLookup, fx.As(new(domain.Lookup))),
		fx.Annotate(enrich.NewPipeline, fx.As(new(translator.Enricher))),
		fx.Annotate(translator.NewTranslator,
			fx.As(new(session.EventTranslator), new(engine.EnrichmentTracker))),
		fx.Annotate(monitor.NewMprisMonitor,
			fx.As(new(domain.Discovery), new(domain.Protocol))),
		fx.Annotate(session.NewLoop, fx.As(new(engine.SessionLoop))),
		fx.Annotate(processor.NewCoverProcessor,
			fx.As(new(domain.CoverLoader), new(status.BackdropRenderer))),
		fx.Annotate(playback.NewState,
			fx.As(new(engine.MessagePump), new(status.NowPlaying))),
		fx.Annotate(status.New, fx.As(new(engine.StatusServer))),
		engine.NewEngine,
	),

	fx.Invoke(
		cache.EnsureSessionLayout,
		logConfig,
		registerHooks,
	),
)

func main() {
	os.Exit(run())
}

// run starts the application and blocks until an interrupt or until the
// engine asks for shutdown. It returns the process exit code.
func run() int {
	app := fx.New(
		AppOptions,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return 1
	}

	exitCode := 0
	select {
	case <-ctx.Done():
	case sig := <-app.Wait():
		exitCode = sig.ExitCode
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil && exitCode == 0 {
		exitCode = 1
	}
	return exitCode
}

// newLogger builds the zap logger from the configured level and encoding:
// colored development output when PrettyLog is set, JSON otherwise
func newLogger(cfg *config.AppConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.PrettyLog {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
	}

	if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	return zcfg.Build(zap.AddStacktrace(zapcore.FatalLevel))
}

func messageSink(ch chan domain.Message) chan<- domain.Message {
	return ch
}

func messageSource(ch chan domain.Message) <-chan domain.Message {
	return ch
}

func logConfig(cfg *config.AppConfig, logger *zap.Logger) {
	cfg.Log(logger)
}

// registerHooks ties the engine to the application lifecycle
func registerHooks(lc fx.Lifecycle, logger *zap.Logger, eng *engine.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Ethist daemon started")
			return eng.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			err := eng.Stop(ctx)
			_ = logger.Sync()
			return err
		},
	})
}
