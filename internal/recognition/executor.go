package recognition

import (
	"fmt"
	"runtime"

	"github.com/MrWong99/glimpse/pkg/provider/ocr"
	"github.com/MrWong99/glimpse/pkg/types"
)

// executor owns one engine on one locked OS thread. Every engine call,
// including construction and Close, runs on that thread.
type executor struct {
	calls chan func(ocr.Engine)
	done  chan struct{}
}

// startExecutor spawns the thread, builds the engine there and waits for the
// outcome. A factory error or panic is returned and the thread exits.
func startExecutor(factory ocr.Factory) (*executor, error) {
	e := &executor{
		calls: make(chan func(ocr.Engine)),
		done:  make(chan struct{}),
	}
	ready := make(chan error, 1)
	go e.loop(factory, ready)
	if err := <-ready; err != nil {
		<-e.done
		return nil, err
	}
	return e, nil
}

func (e *executor) loop(factory ocr.Factory, ready chan<- error) {
	// The thread is never unlocked, so it is torn down with this goroutine
	// along with whatever thread-local state the engine left behind.
	runtime.LockOSThread()
	defer close(e.done)

	eng, err := build(factory)
	if err != nil {
		ready <- err
		return
	}
	ready <- nil

	for fn := range e.calls {
		fn(eng)
	}
	_ = eng.Close()
}

func build(factory ocr.Factory) (eng ocr.Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine factory panic: %v", r)
		}
	}()
	eng, err = factory()
	if err == nil && eng == nil {
		err = fmt.Errorf("engine factory returned nil engine")
	}
	return eng, err
}

// recognize runs one NewImage/Recognize cycle on the executor thread and
// blocks until it finishes. Engine panics are returned as errors.
func (e *executor) recognize(px *types.Pixels) (ocr.Page, error) {
	var (
		page ocr.Page
		err  error
	)
	finished := make(chan struct{})
	e.calls <- func(eng ocr.Engine) {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("engine panic: %v", r)
			}
		}()

		img, ierr := eng.NewImage(px)
		if ierr != nil {
			err = fmt.Errorf("load image: %w", ierr)
			return
		}
		defer img.Close()

		page, err = eng.Recognize(img)
		if err != nil {
			err = fmt.Errorf("recognize: %w", err)
		}
	}
	<-finished
	return page, err
}

// stop closes the engine on its thread and waits for the thread to exit.
func (e *executor) stop() {
	close(e.calls)
	<-e.done
}
