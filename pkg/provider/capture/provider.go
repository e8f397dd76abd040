// Package capture defines the Provider interface for screen capture backends.
//
// A capture provider enumerates the attached displays, grabs a still image of
// one of them on demand and, where the platform allows it, reports which
// application owns the foreground window. The frame source calls Capture once
// per tick; implementations must therefore return promptly and must not keep a
// reference to the returned image.
//
// Implementations must be safe for concurrent use.
package capture

import (
	"context"
	"errors"
	"image"

	"github.com/MrWong99/glimpse/pkg/types"
)

// ErrNotSupported is returned by ForegroundWindow on platforms where the
// foreground application cannot be determined.
var ErrNotSupported = errors.New("capture: not supported on this platform")

// ErrNoMonitor is returned when the requested monitor index does not exist.
var ErrNoMonitor = errors.New("capture: monitor not found")

// Provider is the abstraction over any screen capture backend.
type Provider interface {
	// Monitors lists the attached displays in index order.
	Monitors(ctx context.Context) ([]types.MonitorInfo, error)

	// Capture grabs the full contents of the display with the given index.
	// Ownership of the returned image passes to the caller.
	Capture(ctx context.Context, monitor int) (*image.RGBA, error)

	// ForegroundWindow returns the currently focused window. Providers that
	// cannot determine it return ErrNotSupported.
	ForegroundWindow(ctx context.Context) (*types.WindowContext, error)
}
