//go:build !linux

package monitor

import (
	"context"
	"errors"

	"github.com/genricoloni/ethist/internal/domain"
	"go.uber.org/zap"
)

var errUnsupported = errors.New("MPRIS monitoring is only supported on Linux systems")

// ErrNotConnected is returned by Connect when no session bus is available
var ErrNotConnected = errors.New("session bus not connected")

// MprisMonitor stub for non-Linux platforms
type MprisMonitor struct {
	logger *zap.Logger
}

// NewMprisMonitor creates a stub monitor that fails to launch on non-Linux platforms
func NewMprisMonitor(logger *zap.Logger) *MprisMonitor {
	return &MprisMonitor{logger: logger}
}

// Launch returns an error indicating MPRIS monitoring is not supported on this platform
func (m *MprisMonitor) Launch(ctx context.Context) error {
	return errUnsupported
}

// Next reports that no player will ever be discovered
func (m *MprisMonitor) Next(ctx context.Context) (domain.Credentials, error) {
	return domain.Credentials{}, domain.ErrDiscoveryClosed
}

// Connect always fails on non-Linux platforms
func (m *MprisMonitor) Connect(ctx context.Context, creds domain.Credentials) (domain.Session, error) {
	return nil, ErrNotConnected
}

// Close is a no-op on non-Linux platforms
func (m *MprisMonitor) Close() error {
	return nil
}
