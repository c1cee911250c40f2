package processor

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/genricoloni/ethist/internal/config"
	"github.com/genricoloni/ethist/internal/domain"
	"go.uber.org/zap"
)

func TestCoverProcessor_Load(t *testing.T) {
	tests := []struct {
		name          string
		data          []byte
		coverSize     int
		resolution    *domain.ScreenResolution
		expectedError string
		expectedW     int
		expectedH     int
	}{
		{
			name:       "Square JPEG Fit To Configured Size",
			data:       createTestJPEG(640, 640, color.RGBA{R: 255, A: 255}),
			coverSize:  180,
			resolution: &domain.ScreenResolution{Width: 800, Height: 480},
			expectedW:  180,
			expectedH:  180,
		},
		{
			name:       "Wide PNG Keeps Aspect Ratio",
			data:       createTestPNG(400, 200, color.RGBA{G: 255, A: 255}),
			coverSize:  100,
			resolution: &domain.ScreenResolution{Width: 800, Height: 480},
			expectedW:  100,
			expectedH:  50,
		},
		{
			name:       "Size Derived From Screen Height",
			data:       createTestJPEG(1000, 1000, color.RGBA{B: 255, A: 255}),
			resolution: &domain.ScreenResolution{Width: 1920, Height: 1080},
			expectedW:  432,
			expectedH:  432,
		},
		{
			name:          "Error - Invalid Image Data",
			data:          []byte("not-an-image"),
			coverSize:     180,
			resolution:    &domain.ScreenResolution{Width: 800, Height: 480},
			expectedError: "failed to decode image",
		},
		{
			name:          "Error - Corrupted JPEG",
			data:          []byte{0xFF, 0xD8, 0xFF, 0x00, 0x00},
			coverSize:     180,
			resolution:    &domain.ScreenResolution{Width: 800, Height: 480},
			expectedError: "failed to decode image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cover")
			if err := os.WriteFile(path, tt.data, 0o644); err != nil {
				t.Fatalf("write cover: %v", err)
			}

			cfg := config.Default()
			cfg.CoverSize = tt.coverSize
			p := NewCoverProcessor(zap.NewNop(), tt.resolution, cfg)

			cover, err := p.Load(context.Background(), path)
			if tt.expectedError != "" {
				if err == nil {
					t.Fatalf("expected error containing '%s', got nil", tt.expectedError)
				}
				if !strings.Contains(err.Error(), tt.expectedError) {
					t.Errorf("expected error '%s' to contain '%s'", err.Error(), tt.expectedError)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if cover.Path != path {
				t.Errorf("Path: want %s, got %s", path, cover.Path)
			}
			b := cover.Image.Bounds()
			if b.Dx() != tt.expectedW || b.Dy() != tt.expectedH {
				t.Errorf("expected %dx%d, got %dx%d", tt.expectedW, tt.expectedH, b.Dx(), b.Dy())
			}
		})
	}
}

func TestCoverProcessor_LoadMissingFile(t *testing.T) {
	p := NewCoverProcessor(zap.NewNop(), &domain.ScreenResolution{Width: 800, Height: 480}, config.Default())

	_, err := p.Load(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err == nil || !strings.Contains(err.Error(), "failed to read image") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestCoverProcessor_Backdrop(t *testing.T) {
	tests := []struct {
		name       string
		resolution *domain.ScreenResolution
		accent     *domain.RGB
	}{
		{
			name:       "Small Panel Without Accent",
			resolution: &domain.ScreenResolution{Width: 800, Height: 480},
		},
		{
			name:       "Full HD With Accent",
			resolution: &domain.ScreenResolution{Width: 1920, Height: 1080},
			accent:     &domain.RGB{R: 85, G: 42, B: 21},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "cover")
			if err := os.WriteFile(path, createTestJPEG(100, 100, color.RGBA{R: 255, A: 255}), 0o644); err != nil {
				t.Fatalf("write cover: %v", err)
			}

			p := NewCoverProcessor(zap.NewNop(), tt.resolution, config.Default())
			result, err := p.Backdrop(context.Background(), path, tt.accent)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			img, _, err := image.Decode(bytes.NewReader(result))
			if err != nil {
				t.Fatalf("result is not a valid image: %v", err)
			}
			b := img.Bounds()
			if b.Dx() != tt.resolution.Width || b.Dy() != tt.resolution.Height {
				t.Errorf("expected %dx%d, got %dx%d", tt.resolution.Width, tt.resolution.Height, b.Dx(), b.Dy())
			}
		})
	}
}

func TestNewCoverProcessor_MinimumSize(t *testing.T) {
	p := NewCoverProcessor(zap.NewNop(), &domain.ScreenResolution{Width: 100, Height: 50}, config.Default())
	if p.config.CoverSize != minCoverSize {
		t.Errorf("CoverSize: want %d, got %d", minCoverSize, p.config.CoverSize)
	}
}

// createTestJPEG generates a simple JPEG image for testing
func createTestJPEG(width, height int, col color.Color) []byte {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, solid(width, height, col), &jpeg.Options{Quality: 80}); err != nil {
		panic("failed to create test JPEG: " + err.Error())
	}
	return buf.Bytes()
}

// createTestPNG generates a simple PNG image for testing
func createTestPNG(width, height int, col color.Color) []byte {
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, solid(width, height, col)); err != nil {
		panic("failed to create test PNG: " + err.Error())
	}
	return buf.Bytes()
}

func solid(width, height int, col color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, col)
		}
	}
	return img
}
