package recognition

import (
	"context"
	"sync"
	"syscall"
	"testing"

	"github.com/MrWong99/glimpse/pkg/provider/ocr"
	"github.com/MrWong99/glimpse/pkg/provider/ocr/mock"
	"github.com/MrWong99/glimpse/pkg/types"
)

func TestPool_EngineCallsStayOnOneThread(t *testing.T) {
	t.Parallel()

	var (
		mu             sync.Mutex
		factoryThreads []int
		engines        []*mock.Engine
	)
	factory := func() (ocr.Engine, error) {
		mu.Lock()
		defer mu.Unlock()
		e := &mock.Engine{Page: textPage(0.9, "x"), ThreadID: syscall.Gettid}
		factoryThreads = append(factoryThreads, syscall.Gettid())
		engines = append(engines, e)
		return e, nil
	}

	cfg := defaultConfig()
	cfg.Workers = 2
	p, err := New(factory, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	in := make(chan *types.CapturedFrame, 40)
	for i := range 40 {
		in <- testFrame(uint64(i))
	}
	close(in)
	out := make(chan types.ProcessedUnit, 40)
	if err := p.Run(context.Background(), in, out, make(chan struct{})); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(engines) != 2 {
		t.Fatalf("built %d engines, want 2", len(engines))
	}
	for i, e := range engines {
		for _, tid := range e.Threads {
			if tid != factoryThreads[i] {
				t.Fatalf("engine %d used on thread %d, built on %d", i, tid, factoryThreads[i])
			}
		}
	}
	if factoryThreads[0] == factoryThreads[1] {
		t.Error("both engines built on the same thread")
	}
}
