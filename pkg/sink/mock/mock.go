// Package mock provides a test double for the sink.Sink interface.
//
// Example:
//
//	s := &mock.Sink{FailAfter: 2, Err: errors.New("disk full")}
//	_ = s.Persist(ctx, unit) // nil
//	_ = s.Persist(ctx, unit) // nil
//	_ = s.Persist(ctx, unit) // disk full
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/glimpse/pkg/sink"
	"github.com/MrWong99/glimpse/pkg/types"
)

// Sink is a mock implementation of sink.Sink and sink.Pinger.
type Sink struct {
	mu sync.Mutex

	// Err is returned by Persist once FailAfter units have been accepted.
	// With FailAfter zero every Persist fails.
	Err       error
	FailAfter int

	// PersistFunc, if set, replaces the default Persist behaviour.
	PersistFunc func(ctx context.Context, u types.ProcessedUnit) error

	// PingErr is returned by Ping.
	PingErr error

	// Units records every accepted unit in order.
	Units []types.ProcessedUnit

	// Calls counts every Persist call, accepted or not.
	Calls int

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// Persist records the unit.
func (s *Sink) Persist(ctx context.Context, u types.ProcessedUnit) error {
	s.mu.Lock()
	s.Calls++
	fn := s.PersistFunc
	s.mu.Unlock()

	if fn != nil {
		if err := fn(ctx, u); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CloseCalls > 0 {
		return sink.ErrClosed
	}
	if s.Err != nil && len(s.Units) >= s.FailAfter {
		return s.Err
	}
	s.Units = append(s.Units, u)
	return nil
}

// Ping returns PingErr.
func (s *Sink) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close records the call.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

// Persisted returns a copy of the accepted units. Thread-safe.
func (s *Sink) Persisted() []types.ProcessedUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.ProcessedUnit(nil), s.Units...)
}

// Closed reports whether Close was called. Thread-safe.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCalls > 0
}

var (
	_ sink.Sink   = (*Sink)(nil)
	_ sink.Pinger = (*Sink)(nil)
)
