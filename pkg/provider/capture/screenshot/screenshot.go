// Package screenshot implements capture.Provider on top of the operating
// system's native screen grab APIs via github.com/kbinani/screenshot.
//
// Display enumeration and capture work on Windows, macOS, Linux (X11) and the
// BSDs. Foreground window lookup is only available on macOS; elsewhere
// ForegroundWindow returns capture.ErrNotSupported and frames are emitted
// without window context.
package screenshot

import (
	"context"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"

	"github.com/MrWong99/glimpse/pkg/provider/capture"
	"github.com/MrWong99/glimpse/pkg/types"
)

// Provider captures whole displays. The zero value is not usable; create one
// with New.
type Provider struct {
	windows windowLookup
}

// New returns a Provider for the local desktop.
func New() *Provider {
	return &Provider{windows: newWindowLookup()}
}

// Monitors implements capture.Provider.
func (p *Provider) Monitors(ctx context.Context) ([]types.MonitorInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := screenshot.NumActiveDisplays()
	out := make([]types.MonitorInfo, 0, n)
	for i := range n {
		b := screenshot.GetDisplayBounds(i)
		out = append(out, types.MonitorInfo{
			Index:   i,
			Bounds:  b,
			Primary: b.Min == image.Point{},
		})
	}
	return out, nil
}

// Capture implements capture.Provider.
func (p *Provider) Capture(ctx context.Context, monitor int) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if monitor < 0 || monitor >= screenshot.NumActiveDisplays() {
		return nil, fmt.Errorf("screenshot: monitor %d: %w", monitor, capture.ErrNoMonitor)
	}
	img, err := screenshot.CaptureRect(screenshot.GetDisplayBounds(monitor))
	if err != nil {
		return nil, fmt.Errorf("screenshot: capture monitor %d: %w", monitor, err)
	}
	return img, nil
}

// ForegroundWindow implements capture.Provider.
func (p *Provider) ForegroundWindow(ctx context.Context) (*types.WindowContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.windows.foreground()
}

var _ capture.Provider = (*Provider)(nil)
