package enrich

import (
	"context"
	"sync"

	"github.com/genricoloni/ethist/internal/domain"
	"go.uber.org/zap"
)

// dimFactor darkens accent colours so light text stays legible on top of them
const dimFactor = 3

// Request describes the track to enrich
type Request struct {
	Key      domain.TrackKey
	CoverURL string
	TrackID  string
}

// Pipeline resolves the cover image and the accent colour of an announced track
type Pipeline struct {
	logger *zap.Logger
	cache  domain.ContentCache
	lookup domain.Lookup
}

// NewPipeline creates a new enrichment pipeline
func NewPipeline(logger *zap.Logger, cache domain.ContentCache, lookup domain.Lookup) *Pipeline {
	return &Pipeline{
		logger: logger,
		cache:  cache,
		lookup: lookup,
	}
}

// Enrich runs cover and colour resolution concurrently and sends a message on
// out as soon as each one succeeds. Failures are logged and produce nothing.
// It returns once both branches are done.
func (p *Pipeline) Enrich(ctx context.Context, sess domain.Session, req Request, out chan<- domain.Message) {
	var wg sync.WaitGroup

	if req.CoverURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.resolveCover(ctx, req, out)
		}()
	} else {
		p.logger.Debug("No cover URL, skipping cover resolution", zap.Uint64("key", uint64(req.Key)))
	}

	if req.TrackID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.resolveColor(ctx, sess, req, out)
		}()
	} else {
		p.logger.Debug("No track id, skipping colour lookup", zap.Uint64("key", uint64(req.Key)))
	}

	wg.Wait()
}

func (p *Pipeline) resolveCover(ctx context.Context, req Request, out chan<- domain.Message) {
	path, err := p.cache.Resolve(ctx, req.CoverURL)
	if err != nil {
		p.logger.Warn("Failed to resolve cover",
			zap.String("url", req.CoverURL),
			zap.Uint64("key", uint64(req.Key)),
			zap.Error(err))
		return
	}

	emit(ctx, out, domain.CoverResolved{Key: req.Key, Path: path})
}

func (p *Pipeline) resolveColor(ctx context.Context, sess domain.Session, req Request, out chan<- domain.Message) {
	lyrics, err := p.lookup.Get(ctx, sess, req.TrackID)
	if err != nil {
		p.logger.Warn("Failed to look up accent colour",
			zap.String("track", req.TrackID),
			zap.Uint64("key", uint64(req.Key)),
			zap.Error(err))
		return
	}

	color := Dim(DecodeColor(lyrics.Colors.Background))
	emit(ctx, out, domain.ColorResolved{Key: req.Key, Color: color})
}

// DecodeColor unpacks a 0xRRGGBB integer. Bits above the low 24 are ignored.
func DecodeColor(v int64) domain.RGB {
	c := uint32(v) & 0xFFFFFF
	return domain.RGB{
		R: uint8((c >> 16) & 0xFF),
		G: uint8((c >> 8) & 0xFF),
		B: uint8(c & 0xFF),
	}
}

// Dim divides every channel by three
func Dim(c domain.RGB) domain.RGB {
	return domain.RGB{
		R: c.R / dimFactor,
		G: c.G / dimFactor,
		B: c.B / dimFactor,
	}
}

// emit blocks until the consumer takes msg or ctx ends
func emit(ctx context.Context, out chan<- domain.Message, msg domain.Message) bool {
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
