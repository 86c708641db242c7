package retriever

import (
	"context"
	"errors"
	"fmt"

	"threatfeed/internal/domain"
	"threatfeed/internal/port"
)

var _ port.Retriever = (*SemanticRetriever)(nil)

// ErrNotConfigured is returned when the retriever has no store or embedder.
var ErrNotConfigured = errors.New("semantic search not available")

// SemanticRetriever embeds a query with the indexing embedder and ranks
// vector store entries against it.
type SemanticRetriever struct {
	vectorStore port.VectorStore
	embedder    port.Embedder
}

func NewSemanticRetriever(vectorStore port.VectorStore, embedder port.Embedder) *SemanticRetriever {
	return &SemanticRetriever{
		vectorStore: vectorStore,
		embedder:    embedder,
	}
}

func (r *SemanticRetriever) Search(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	if r.vectorStore == nil || r.embedder == nil {
		return nil, ErrNotConfigured
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedding returned empty result")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results, err := r.vectorStore.Search(embeddings[0], k)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]domain.RetrievalResult, 0, len(results))
	for _, res := range results {
		out = append(out, domain.RetrievalResult{
			DocID: res.DocID,
			Score: res.Score,
			Text:  res.Text,
			Metadata: domain.Metadata{
				Title:     res.Title,
				URL:       res.URL,
				Timestamp: res.Unix,
			},
		})
	}
	return out, nil
}
