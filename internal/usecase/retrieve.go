package usecase

import (
	"context"
	"errors"
	"strings"

	"threatfeed/config"
	"threatfeed/internal/domain"
	"threatfeed/internal/port"
)

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("query is empty")

// RetrieveUseCase handles search and retrieval operations.
type RetrieveUseCase struct {
	retriever         port.Retriever
	defaultK          int
	maxK              int
	minScoreThreshold float64 // Filter results below this score (0 = disabled)
}

// NewRetrieveUseCase creates a new retrieve use case.
func NewRetrieveUseCase(retriever port.Retriever, cfg config.RetrieveConfig) *RetrieveUseCase {
	u := &RetrieveUseCase{
		retriever:         retriever,
		defaultK:          cfg.DefaultK,
		maxK:              cfg.MaxK,
		minScoreThreshold: cfg.MinScore,
	}
	if u.defaultK <= 0 {
		u.defaultK = 3
	}
	if u.maxK < u.defaultK {
		u.maxK = u.defaultK
	}
	return u
}

// EffectiveK maps a requested k onto [1, maxK]; k <= 0 means the default.
func (u *RetrieveUseCase) EffectiveK(k int) int {
	if k <= 0 {
		return u.defaultK
	}
	if k > u.maxK {
		return u.maxK
	}
	return k
}

// Retrieve returns up to k documents most similar to query.
func (u *RetrieveUseCase) Retrieve(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}

	results, err := u.retriever.Search(ctx, query, u.EffectiveK(k))
	if err != nil {
		return nil, err
	}

	if u.minScoreThreshold > 0 {
		results = u.filterByThreshold(results)
	}
	return results, nil
}

// filterByThreshold removes results below the minimum score threshold.
func (u *RetrieveUseCase) filterByThreshold(results []domain.RetrievalResult) []domain.RetrievalResult {
	filtered := make([]domain.RetrievalResult, 0, len(results))
	for _, r := range results {
		if r.Score >= u.minScoreThreshold {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
