package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/glimpse/pkg/provider/capture"
	"github.com/MrWong99/glimpse/pkg/provider/embeddings"
	"github.com/MrWong99/glimpse/pkg/provider/ocr"
	"github.com/MrWong99/glimpse/pkg/sink"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// SinkDeps carries what a sink factory may need beyond its entry.
type SinkDeps struct {
	// EmbeddingDimensions is the resolved vector size.
	EmbeddingDimensions int

	// Embedder is nil when no embeddings provider is configured.
	Embedder embeddings.Provider

	Logger *slog.Logger
}

// SinkFactory builds a sink. Sinks connect to their backend, so the factory
// takes a context.
type SinkFactory func(ctx context.Context, entry ProviderEntry, deps SinkDeps) (sink.Sink, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	capture     map[string]func(ProviderEntry) (capture.Provider, error)
	recognition map[string]func(ProviderEntry) (ocr.Factory, error)
	storage     map[string]SinkFactory
	embeddings  map[string]func(ProviderEntry) (embeddings.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:     make(map[string]func(ProviderEntry) (capture.Provider, error)),
		recognition: make(map[string]func(ProviderEntry) (ocr.Factory, error)),
		storage:     make(map[string]SinkFactory),
		embeddings:  make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
	}
}

// RegisterCapture registers a capture provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory func(ProviderEntry) (capture.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterRecognition registers a recognizer under name. The factory returns
// an [ocr.Factory] rather than an engine because every worker builds its own
// engine on its own thread.
func (r *Registry) RegisterRecognition(name string, factory func(ProviderEntry) (ocr.Factory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognition[name] = factory
}

// RegisterStorage registers a sink factory under name.
func (r *Registry) RegisterStorage(name string, factory SinkFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateCapture instantiates a capture provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateCapture(entry ProviderEntry) (capture.Provider, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateRecognition returns the engine factory registered under entry.Name.
func (r *Registry) CreateRecognition(entry ProviderEntry) (ocr.Factory, error) {
	r.mu.RLock()
	factory, ok := r.recognition[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: recognition/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateStorage instantiates a sink using the factory registered under entry.Name.
func (r *Registry) CreateStorage(ctx context.Context, entry ProviderEntry, deps SinkDeps) (sink.Sink, error) {
	r.mu.RLock()
	factory, ok := r.storage[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: storage/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(ctx, entry, deps)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
