// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// An embeddings provider maps text to dense float32 vectors. The report store
// uses these vectors to index candidate answers for semantic search across
// past interview sessions.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different providers
// or models must not be mixed in the same similarity computation.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns
	// a float32 slice of length Dimensions() or an error if the request
	// fails or ctx is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of texts in a single
	// provider call. The returned slice has the same length as texts and the
	// i-th element corresponds to texts[i]. Partial results are not
	// returned; on error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider. Constant for the lifetime of the instance.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g., "text-embedding-3-small"). Useful for logging and for keeping
	// model usage consistent across a session.
	ModelID() string
}
