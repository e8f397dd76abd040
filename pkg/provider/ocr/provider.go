// Package ocr defines the Engine interface for text recognition backends.
//
// Recognition engines are thread-affine: an Engine must be created, used and
// closed on the same OS thread. Callers that run on goroutines are expected to
// pin a goroutine with runtime.LockOSThread and route every call for one
// engine through it. Engines are therefore NOT safe for concurrent use.
//
// Images are handed over through NewImage, which copies the frame's pixels
// straight into the engine's native buffer. No intermediate encoding such as
// PNG is involved.
package ocr

import (
	"image"

	"github.com/MrWong99/glimpse/pkg/types"
)

// Word is one recognised word.
type Word struct {
	// Text is the recognised word.
	Text string

	// Box is the word's bounding rectangle in source pixels.
	Box image.Rectangle

	// Confidence is the engine's confidence in [0, 1].
	Confidence float64
}

// Line is a sequence of words the engine grouped onto one text line, in
// reading order.
type Line struct {
	Words []Word
}

// Page is the raw output of one Recognize call.
type Page struct {
	Lines []Line
}

// Image is an engine-native image. It must be closed on the engine's thread.
type Image interface {
	// Width and Height are the image dimensions in pixels.
	Width() int
	Height() int

	// Close releases the native buffer. Calling Close more than once is safe.
	Close() error
}

// Engine is the abstraction over any OCR backend.
type Engine interface {
	// NewImage copies px into a native image owned by the engine.
	NewImage(px *types.Pixels) (Image, error)

	// Recognize runs text recognition on img.
	Recognize(img Image) (Page, error)

	// Close releases the engine.
	Close() error
}

// Factory constructs one Engine. It is called on the thread that will own the
// engine.
type Factory func() (Engine, error)
