package store

import "context"

// Store is a nearest-neighbor searchable collection of embeddings with their
// source texts. Entry i's vector and text always describe the same exchange.
type Store interface {
	// Append adds one entry. The first appended vector fixes the dimension.
	Append(ctx context.Context, vector []float32, text string) error
	// Search returns up to k source texts ordered by ascending L2 distance
	// to the query. An empty store returns an empty result, not an error.
	Search(ctx context.Context, query []float32, k int) ([]string, error)
	// Persist makes all appended entries durable.
	Persist(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Close() error
}
