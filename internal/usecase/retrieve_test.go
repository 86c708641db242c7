package usecase

import (
	"context"
	"errors"
	"testing"

	"threatfeed/config"
	"threatfeed/internal/domain"
)

type recordingRetriever struct {
	lastK   int
	results []domain.RetrievalResult
	err     error
}

func (r *recordingRetriever) Search(ctx context.Context, query string, k int) ([]domain.RetrievalResult, error) {
	r.lastK = k
	return r.results, r.err
}

func TestRetrieveEffectiveK(t *testing.T) {
	inner := &recordingRetriever{}
	u := NewRetrieveUseCase(inner, config.RetrieveConfig{DefaultK: 3, MaxK: 10})

	tests := []struct {
		requested, expected int
	}{
		{0, 3},
		{-4, 3},
		{1, 1},
		{10, 10},
		{500, 10},
	}
	for _, tt := range tests {
		if _, err := u.Retrieve(context.Background(), "kernel", tt.requested); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if inner.lastK != tt.expected {
			t.Errorf("k=%d: expected effective k %d, got %d", tt.requested, tt.expected, inner.lastK)
		}
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	u := NewRetrieveUseCase(&recordingRetriever{}, config.RetrieveConfig{})
	_, err := u.Retrieve(context.Background(), "   ", 3)
	if !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestRetrieveMinScore(t *testing.T) {
	inner := &recordingRetriever{results: []domain.RetrievalResult{
		{DocID: "a", Score: 0.8},
		{DocID: "b", Score: 0.3},
	}}
	u := NewRetrieveUseCase(inner, config.RetrieveConfig{DefaultK: 3, MaxK: 3, MinScore: 0.5})

	results, err := u.Retrieve(context.Background(), "q", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocID != "a" {
		t.Errorf("expected only a, got %+v", results)
	}
}

func TestRetrievePropagatesError(t *testing.T) {
	boom := errors.New("boom")
	u := NewRetrieveUseCase(&recordingRetriever{err: boom}, config.RetrieveConfig{})
	if _, err := u.Retrieve(context.Background(), "q", 1); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}
