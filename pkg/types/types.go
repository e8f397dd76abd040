// Package types defines the shared types used across all glimpse packages.
//
// These types are what flows between the frame source, the change detector,
// the recognition pool and the sinks. Each package defines its own domain types,
// but cross-cutting data structures live here to avoid circular imports.
package types

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// MonitorInfo describes one attached display as reported by a capture provider.
type MonitorInfo struct {
	// Index is the zero-based display index used to select a capture target.
	Index int

	// Bounds is the display rectangle in the virtual desktop coordinate space.
	Bounds image.Rectangle

	// Primary is true for the display the OS reports as primary.
	Primary bool
}

// WindowContext identifies the foreground application at capture time.
type WindowContext struct {
	// Title is the window title. May be empty when the platform only exposes
	// the application.
	Title string

	// ProcessName is the executable or localized application name.
	ProcessName string
}

// CapturedFrame is a single screen capture flowing through the pipeline.
//
// A frame is immutable after construction. It is shared by pointer between the
// change detector (which keeps the last retained frame as its reference) and the
// recognition pool, so no stage may modify it.
type CapturedFrame struct {
	// ID uniquely identifies the frame across runs.
	ID uuid.UUID

	// Seq is a per-source sequence number, starting at 1.
	Seq uint64

	// Pixels holds the RGBA image data.
	Pixels *Pixels

	// CapturedAt is the wall-clock time the capture completed.
	CapturedAt time.Time

	// MonitorIndex is the display the frame was captured from.
	MonitorIndex int

	// Window is the foreground window at capture time. Nil when the lookup
	// failed or the platform does not support it.
	Window *WindowContext
}

// NewCapturedFrame wraps img into a frame. Ownership of img's pixel buffer
// passes to the frame; the caller must not modify img afterwards.
func NewCapturedFrame(seq uint64, img *image.RGBA, monitor int, win *WindowContext, at time.Time) *CapturedFrame {
	return &CapturedFrame{
		ID:           uuid.New(),
		Seq:          seq,
		Pixels:       NewPixels(img),
		CapturedAt:   at,
		MonitorIndex: monitor,
		Window:       win,
	}
}

// BoundingBox is an axis-aligned rectangle in source-image pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// BoxFromRect converts an image.Rectangle to a BoundingBox.
func BoxFromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect converts the box back to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// TextRegion is one recognised piece of text.
type TextRegion struct {
	Text       string      `json:"text"`
	Box        BoundingBox `json:"box"`
	Confidence float64     `json:"confidence"`
}

// RecognitionResult is the outcome of recognising one frame.
type RecognitionResult struct {
	// Regions are the regions that passed the confidence filter, in reading
	// order.
	Regions []TextRegion

	// FullText is the text of Regions joined with single spaces.
	FullText string

	// Duration is the wall-clock time spent recognising, including retries.
	Duration time.Duration

	// Width and Height are the source image dimensions.
	Width  int
	Height int
}

// Empty reports whether no region passed the confidence filter.
func (r RecognitionResult) Empty() bool { return len(r.Regions) == 0 }

// ProcessedUnit pairs a frame with its recognition result. It is the unit
// handed to a sink.
type ProcessedUnit struct {
	Frame  *CapturedFrame
	Result RecognitionResult
}
