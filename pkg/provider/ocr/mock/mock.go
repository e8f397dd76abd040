// Package mock provides test doubles for the ocr package interfaces.
//
// Engine returns Page for every Recognize call unless RecognizeErrs or
// RecognizeFunc says otherwise. It records the OS thread ID of every call so
// that tests can assert thread affinity.
//
// Example:
//
//	eng := &mock.Engine{Page: ocr.Page{Lines: []ocr.Line{{Words: words}}}}
//	factory := mock.Factory(eng)
package mock

import (
	"errors"
	"sync"

	"github.com/MrWong99/glimpse/pkg/provider/ocr"
	"github.com/MrWong99/glimpse/pkg/types"
)

// Image is a mock ocr.Image.
type Image struct {
	W, H   int
	Seq    uint64
	closed bool
}

// Width implements ocr.Image.
func (i *Image) Width() int { return i.W }

// Height implements ocr.Image.
func (i *Image) Height() int { return i.H }

// Close implements ocr.Image.
func (i *Image) Close() error { i.closed = true; return nil }

// Closed reports whether Close was called.
func (i *Image) Closed() bool { return i.closed }

// Engine is a mock implementation of ocr.Engine.
type Engine struct {
	mu sync.Mutex

	// Page is returned by Recognize when RecognizeFunc is nil.
	Page ocr.Page

	// RecognizeFunc, if set, replaces the default Recognize behaviour. The
	// argument is the 1-based call number.
	RecognizeFunc func(call int, img ocr.Image) (ocr.Page, error)

	// RecognizeErrs[i], if non-nil, is returned by the i-th Recognize call.
	RecognizeErrs []error

	// NewImageErr, if non-nil, is returned by every NewImage call.
	NewImageErr error

	// ThreadID, if set, is called on each method to record the current OS
	// thread. Tests wire it to a platform gettid.
	ThreadID func() int

	// NewImageCalls and RecognizeCalls count invocations.
	NewImageCalls  int
	RecognizeCalls int

	// Threads records ThreadID() for every call.
	Threads []int

	// Images records every image handed out by NewImage.
	Images []*Image

	closed bool
}

func (e *Engine) recordThread() {
	if e.ThreadID != nil {
		e.Threads = append(e.Threads, e.ThreadID())
	}
}

// NewImage implements ocr.Engine.
func (e *Engine) NewImage(px *types.Pixels) (ocr.Image, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewImageCalls++
	e.recordThread()
	if e.closed {
		return nil, errors.New("mock: engine closed")
	}
	if e.NewImageErr != nil {
		return nil, e.NewImageErr
	}
	img := &Image{W: px.Width(), H: px.Height()}
	e.Images = append(e.Images, img)
	return img, nil
}

// Recognize implements ocr.Engine.
func (e *Engine) Recognize(img ocr.Image) (ocr.Page, error) {
	e.mu.Lock()
	e.RecognizeCalls++
	call := e.RecognizeCalls
	e.recordThread()
	fn := e.RecognizeFunc
	var err error
	if call-1 < len(e.RecognizeErrs) {
		err = e.RecognizeErrs[call-1]
	}
	page := e.Page
	e.mu.Unlock()

	if fn != nil {
		return fn(call, img)
	}
	if err != nil {
		return ocr.Page{}, err
	}
	return page, nil
}

// Close implements ocr.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recordThread()
	e.closed = true
	return nil
}

// Closed reports whether Close was called. Thread-safe.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Calls returns the number of Recognize calls. Thread-safe.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.RecognizeCalls
}

// Factory returns an ocr.Factory that hands out the given engines in order.
// Once exhausted it returns an error.
func Factory(engines ...*Engine) ocr.Factory {
	var mu sync.Mutex
	next := 0
	return func() (ocr.Engine, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(engines) {
			return nil, errors.New("mock: no engine left")
		}
		e := engines[next]
		next++
		return e, nil
	}
}

// Ensure Engine implements ocr.Engine at compile time.
var _ ocr.Engine = (*Engine)(nil)
