// Package embeddings defines the Provider interface for text embedding
// backends.
//
// Sinks use an embeddings provider to attach a dense vector to the recognised
// text of each frame so captures can later be found by meaning rather than by
// exact words.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to a fixed-length float32 vector.
type Provider interface {
	// Embed returns the embedding of text. The slice has length Dimensions().
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions is the length of every vector this provider returns.
	Dimensions() int

	// ModelID identifies the embedding model.
	ModelID() string
}
