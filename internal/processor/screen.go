package processor

import (
	"github.com/genricoloni/ethist/internal/domain"
	"github.com/kbinani/screenshot"
	"go.uber.org/zap"
)

// fallback for headless starts, the size of the common 5" panel the clock runs on
var fallbackResolution = domain.ScreenResolution{Width: 800, Height: 480}

// NewScreenResolution detects the primary display size at startup
func NewScreenResolution(logger *zap.Logger) *domain.ScreenResolution {
	if screenshot.NumActiveDisplays() <= 0 {
		logger.Warn("No active displays detected, using fallback resolution",
			zap.Int("width", fallbackResolution.Width),
			zap.Int("height", fallbackResolution.Height))
		res := fallbackResolution
		return &res
	}

	bounds := screenshot.GetDisplayBounds(0)
	res := &domain.ScreenResolution{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}

	logger.Info("Screen resolution detected",
		zap.Int("width", res.Width),
		zap.Int("height", res.Height))

	return res
}
