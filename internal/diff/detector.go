// Package diff decides whether a newly captured frame differs enough from the
// last retained frame to be worth recognising.
//
// Frames are compared on a strided sample of pixels. A sampled pixel counts as
// changed when any of its colour channels moved by more than the noise floor;
// the change ratio is changed/sampled. A frame is retained when the ratio is
// strictly greater than the threshold. The first frame and frames whose
// dimensions differ from the reference are always retained.
//
// A Detector is owned by a single goroutine and does no locking.
package diff

import "github.com/MrWong99/glimpse/pkg/types"

// Defaults.
const (
	DefaultThreshold  = 0.006
	DefaultNoiseFloor = 10
	DefaultStride     = 4
)

// Config tunes a Detector.
type Config struct {
	// Threshold is the change ratio a frame must exceed to be retained.
	Threshold float64

	// NoiseFloor is the largest per-channel delta still treated as unchanged.
	NoiseFloor uint8

	// Stride samples every Stride-th pixel in row-major order.
	Stride int
}

// Decision is the outcome of [Detector.Observe].
type Decision struct {
	// Retain is true when the frame should be forwarded.
	Retain bool

	// Ratio is the fraction of sampled pixels that changed. 1 for the first
	// frame and for dimension changes.
	Ratio float64

	// First is true when there was no reference frame.
	First bool
}

// Detector holds the last retained frame.
type Detector struct {
	cfg  Config
	last *types.CapturedFrame
}

// New returns a Detector. A zero Stride becomes [DefaultStride].
func New(cfg Config) *Detector {
	if cfg.Stride <= 0 {
		cfg.Stride = DefaultStride
	}
	return &Detector{cfg: cfg}
}

// Observe compares f against the reference frame and, when f is retained,
// makes it the new reference. Discarded frames leave the reference untouched.
func (d *Detector) Observe(f *types.CapturedFrame) Decision {
	if d.last == nil {
		d.last = f
		return Decision{Retain: true, Ratio: 1, First: true}
	}
	ratio := d.Compare(d.last.Pixels, f.Pixels)
	if ratio > d.cfg.Threshold {
		d.last = f
		return Decision{Retain: true, Ratio: ratio}
	}
	return Decision{Ratio: ratio}
}

// Compare returns the change ratio between two pixel buffers. Buffers of
// different size, or empty ones, compare as fully changed.
func (d *Detector) Compare(prev, next *types.Pixels) float64 {
	if !prev.SameSize(next) || next.Len() == 0 {
		return 1
	}
	n := next.Len()
	sampled, changed := 0, 0
	for i := 0; i < n; i += d.cfg.Stride {
		sampled++
		if d.pixelChanged(prev, next, i) {
			changed++
		}
	}
	return float64(changed) / float64(sampled)
}

func (d *Detector) pixelChanged(prev, next *types.Pixels, i int) bool {
	r0, g0, b0, _ := prev.RGBA(i)
	r1, g1, b1, _ := next.RGBA(i)
	nf := d.cfg.NoiseFloor
	return absDiff(r0, r1) > nf || absDiff(g0, g1) > nf || absDiff(b0, b1) > nf
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

// Reset forgets the reference frame so the next frame is retained.
func (d *Detector) Reset() { d.last = nil }

// Last returns the current reference frame, or nil.
func (d *Detector) Last() *types.CapturedFrame { return d.last }
