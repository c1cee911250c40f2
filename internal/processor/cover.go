package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png" // PNG format support
	"os"

	"github.com/disintegration/imaging"
	"github.com/genricoloni/ethist/internal/config"
	"github.com/genricoloni/ethist/internal/domain"
	_ "golang.org/x/image/webp" // WebP format support, some CDNs serve covers as webp
	"go.uber.org/zap"
)

const (
	defaultBlurRadius = 15.0
	coverHeightRatio  = 0.40 // Cover size as percentage of screen height
	accentOpacity     = 0.6
	minCoverSize      = 64
)

// ProcessorConfig holds configuration for image processing
type ProcessorConfig struct {
	BlurRadius float64
	// CoverSize is the edge of the square the thumbnail fits into
	CoverSize int
}

// CoverProcessor decodes cached cover files into drawable thumbnails and
// renders blurred backdrops for the now playing view
type CoverProcessor struct {
	logger *zap.Logger
	res    *domain.ScreenResolution // Injected automatically by Fx
	config ProcessorConfig
}

// NewCoverProcessor creates a cover processor. The thumbnail size comes from
// the configuration or, when unset, from the screen height.
func NewCoverProcessor(logger *zap.Logger, res *domain.ScreenResolution, cfg *config.AppConfig) *CoverProcessor {
	size := cfg.CoverSize
	if size <= 0 {
		size = int(float64(res.Height) * coverHeightRatio)
	}
	if size < minCoverSize {
		size = minCoverSize
	}

	logger.Debug("Cover processor ready", zap.Int("coverSize", size))

	return &CoverProcessor{
		logger: logger,
		res:    res,
		config: ProcessorConfig{
			BlurRadius: defaultBlurRadius,
			CoverSize:  size,
		},
	}
}

// Load decodes the file at path and fits it into the configured square
func (p *CoverProcessor) Load(ctx context.Context, path string) (*domain.Cover, error) {
	img, err := p.open(path)
	if err != nil {
		return nil, err
	}

	thumb := imaging.Fit(img, p.config.CoverSize, p.config.CoverSize, imaging.Lanczos)

	p.logger.Debug("Cover loaded",
		zap.String("path", path),
		zap.Int("w", thumb.Bounds().Dx()),
		zap.Int("h", thumb.Bounds().Dy()))

	return &domain.Cover{Path: path, Image: thumb}, nil
}

// Backdrop renders a screen-sized JPEG: the cover blurred to fill the screen,
// tinted with accent when present, with the sharp cover pasted in the middle
func (p *CoverProcessor) Backdrop(ctx context.Context, path string, accent *domain.RGB) ([]byte, error) {
	img, err := p.open(path)
	if err != nil {
		return nil, err
	}

	// 1. Blurred background covering the whole screen
	p.logger.Debug("Creating blurred background", zap.Int("w", p.res.Width), zap.Int("h", p.res.Height))
	background := imaging.Fill(img, p.res.Width, p.res.Height, imaging.Center, imaging.Lanczos)
	background = imaging.Blur(background, p.config.BlurRadius)

	// 2. Accent tint
	if accent != nil {
		tint := imaging.New(p.res.Width, p.res.Height, color.NRGBA{R: accent.R, G: accent.G, B: accent.B, A: 255})
		background = imaging.Overlay(background, tint, image.Pt(0, 0), accentOpacity)
	}

	// 3. Sharp cover at the centre
	cover := imaging.Fit(img, p.config.CoverSize, p.config.CoverSize, imaging.Lanczos)
	centerX := (p.res.Width - cover.Bounds().Dx()) / 2
	centerY := (p.res.Height - cover.Bounds().Dy()) / 2
	result := imaging.Paste(background, cover, image.Pt(centerX, centerY))

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, result, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	p.logger.Debug("Backdrop rendered", zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func (p *CoverProcessor) open(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	// Validate image dimensions to prevent division by zero
	bounds := img.Bounds()
	if bounds.Dy() == 0 || bounds.Dx() == 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}
	return img, nil
}
