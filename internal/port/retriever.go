package port

import (
	"context"

	"threatfeed/internal/domain"
)

// Retriever defines the interface for searching indexed documents.
type Retriever interface {
	// Search returns the top-k documents most similar to the query.
	Search(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error)
}
