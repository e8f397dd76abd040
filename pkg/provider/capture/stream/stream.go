// Package stream implements capture.Provider over a video source opened with
// gocv: a camera index, a file, or a network stream URL such as RTSP or HLS.
//
// The stream is exposed as a single monitor with index 0. Each Capture call
// reads the next decoded frame. When a read fails the capture is closed and
// reopened on the following call, so a flapping stream only costs the ticks
// that fall inside the outage.
package stream

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/MrWong99/glimpse/pkg/provider/capture"
	"github.com/MrWong99/glimpse/pkg/types"
)

// ErrClosed is returned after Close has been called.
var ErrClosed = errors.New("stream: provider closed")

// Provider reads frames from a gocv video source.
type Provider struct {
	url  string
	name string

	mu     sync.Mutex
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	closed bool
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithName sets the ProcessName reported by ForegroundWindow. Defaults to the
// source URL.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// New opens the video source at url. A numeric url selects a local capture
// device.
func New(url string, opts ...Option) (*Provider, error) {
	if url == "" {
		return nil, errors.New("stream: url is required")
	}
	p := &Provider{url: url, name: url, mat: gocv.NewMat()}
	for _, o := range opts {
		o(p)
	}
	if err := p.open(); err != nil {
		p.mat.Close()
		return nil, err
	}
	return p, nil
}

// open must be called with p.mu held or before p is shared.
func (p *Provider) open() error {
	vc, err := gocv.OpenVideoCapture(p.url)
	if err != nil {
		return fmt.Errorf("stream: open %q: %w", p.url, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("stream: open %q: capture not opened", p.url)
	}
	p.vc = vc
	return nil
}

// Monitors implements capture.Provider.
func (p *Provider) Monitors(_ context.Context) ([]types.MonitorInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.vc == nil {
		if err := p.open(); err != nil {
			return nil, err
		}
	}
	w := int(p.vc.Get(gocv.VideoCaptureFrameWidth))
	h := int(p.vc.Get(gocv.VideoCaptureFrameHeight))
	return []types.MonitorInfo{{Index: 0, Bounds: image.Rect(0, 0, w, h), Primary: true}}, nil
}

// Capture implements capture.Provider.
func (p *Provider) Capture(ctx context.Context, monitor int) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if monitor != 0 {
		return nil, fmt.Errorf("stream: monitor %d: %w", monitor, capture.ErrNoMonitor)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if p.vc == nil {
		if err := p.open(); err != nil {
			return nil, err
		}
	}
	if ok := p.vc.Read(&p.mat); !ok || p.mat.Empty() {
		p.vc.Close()
		p.vc = nil
		return nil, fmt.Errorf("stream: read %q: no frame", p.url)
	}

	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(p.mat, &rgba, gocv.ColorBGRToRGBA)
	if rgba.Empty() {
		return nil, fmt.Errorf("stream: convert frame %q: empty result", p.url)
	}
	img := image.NewRGBA(image.Rect(0, 0, rgba.Cols(), rgba.Rows()))
	copy(img.Pix, rgba.ToBytes())
	return img, nil
}

// ForegroundWindow reports the stream itself as the focused "window".
func (p *Provider) ForegroundWindow(_ context.Context) (*types.WindowContext, error) {
	return &types.WindowContext{Title: p.url, ProcessName: p.name}, nil
}

// Close releases the video source. Calling Close more than once is safe.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var err error
	if p.vc != nil {
		err = p.vc.Close()
		p.vc = nil
	}
	return errors.Join(err, p.mat.Close())
}

var _ capture.Provider = (*Provider)(nil)
