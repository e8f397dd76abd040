// Package mock provides a test double for the capture.Provider interface.
//
// Frames are served from Images in order; once exhausted the last image is
// repeated. CaptureErrs, when set, is consulted per call and takes precedence
// over Images for that call.
//
// Example:
//
//	p := &mock.Provider{Images: []*image.RGBA{a, b}}
//	img, _ := p.Capture(ctx, 0) // a
package mock

import (
	"context"
	"image"
	"sync"

	"github.com/MrWong99/glimpse/pkg/provider/capture"
	"github.com/MrWong99/glimpse/pkg/types"
)

// Provider is a mock implementation of capture.Provider.
type Provider struct {
	mu sync.Mutex

	// MonitorList is returned by Monitors.
	MonitorList []types.MonitorInfo

	// MonitorsErr, if non-nil, is returned by Monitors.
	MonitorsErr error

	// Images are returned by successive Capture calls.
	Images []*image.RGBA

	// CaptureErrs[i], if non-nil, is returned by the i-th Capture call instead
	// of an image. Calls past the end of the slice succeed.
	CaptureErrs []error

	// Window is returned by ForegroundWindow.
	Window *types.WindowContext

	// WindowErr, if non-nil, is returned by ForegroundWindow.
	WindowErr error

	// CaptureCalls records the monitor index of every Capture call.
	CaptureCalls []int

	// WindowCalls counts ForegroundWindow invocations.
	WindowCalls int

	next int
}

// Monitors returns MonitorList, MonitorsErr.
func (p *Provider) Monitors(_ context.Context) ([]types.MonitorInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.MonitorsErr != nil {
		return nil, p.MonitorsErr
	}
	return append([]types.MonitorInfo(nil), p.MonitorList...), nil
}

// Capture records the call and returns the next configured image or error.
// Each call returns a fresh copy so callers may take ownership.
func (p *Provider) Capture(ctx context.Context, monitor int) (*image.RGBA, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call := len(p.CaptureCalls)
	p.CaptureCalls = append(p.CaptureCalls, monitor)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if call < len(p.CaptureErrs) && p.CaptureErrs[call] != nil {
		return nil, p.CaptureErrs[call]
	}
	if len(p.Images) == 0 {
		return image.NewRGBA(image.Rect(0, 0, 8, 8)), nil
	}
	src := p.Images[min(p.next, len(p.Images)-1)]
	p.next++
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst, nil
}

// ForegroundWindow returns Window, WindowErr.
func (p *Provider) ForegroundWindow(_ context.Context) (*types.WindowContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.WindowCalls++
	if p.WindowErr != nil {
		return nil, p.WindowErr
	}
	return p.Window, nil
}

// Captures returns the number of Capture calls so far. Thread-safe.
func (p *Provider) Captures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CaptureCalls)
}

// Ensure Provider implements capture.Provider at compile time.
var _ capture.Provider = (*Provider)(nil)
