package port

import "context"

// Embedder generates vector embeddings for text.
// One Embedder is chosen per process; vectors from different embedders
// must never be compared.
type Embedder interface {
	// Embed generates one embedding per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorStore is an append-only store searched by similarity.
type VectorStore interface {
	// Append adds one entry and returns its sequence number.
	Append(item VectorItem) (uint64, error)

	// Search finds the k most similar entries to the query.
	Search(query []float32, k int) ([]VectorResult, error)

	// Count returns the number of entries in the store.
	Count() int
}

// VectorItem represents a vector to be stored.
type VectorItem struct {
	DocID  string
	Vector []float32
	Text   string
	Title  string
	URL    string
	Unix   float64
}

// VectorResult represents a search result.
type VectorResult struct {
	Seq   uint64
	DocID string
	Score float64 // Cosine similarity (higher is better)
	Text  string
	Title string
	URL   string
	Unix  float64
}
