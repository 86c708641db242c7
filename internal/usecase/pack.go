package usecase

import (
	"fmt"
	"strings"

	"threatfeed/internal/domain"
	"threatfeed/internal/port"
)

var _ port.Packer = (*PackUseCase)(nil)

// NoSignal is the context used when nothing was retrieved.
const NoSignal = "NO SIGNAL"

// DefaultExcerptChars bounds each report's text in the packed context.
const DefaultExcerptChars = 300

// PackUseCase turns retrieval results into numbered report blocks plus a
// source list, the context format generation clients expect.
type PackUseCase struct {
	excerptChars int
}

// NewPackUseCase creates a new pack use case.
func NewPackUseCase(excerptChars int) *PackUseCase {
	if excerptChars <= 0 {
		excerptChars = DefaultExcerptChars
	}
	return &PackUseCase{excerptChars: excerptChars}
}

// Pack numbers results from 1 in rank order. Newlines in excerpts become
// spaces so each report stays on one line. Only results with a URL get a
// source line.
func (u *PackUseCase) Pack(query string, results []domain.RetrievalResult) domain.PackedContext {
	packed := domain.PackedContext{
		Query:   query,
		Context: NoSignal,
		Reports: []domain.Report{},
	}
	if len(results) == 0 {
		return packed
	}

	blocks := make([]string, 0, len(results))
	for i, r := range results {
		idx := i + 1
		text := strings.ReplaceAll(excerpt(r.Text, u.excerptChars), "\n", " ")
		blocks = append(blocks, fmt.Sprintf("REPORT %d: %s", idx, text))
		packed.Reports = append(packed.Reports, domain.Report{
			Index: idx,
			Title: r.Metadata.Title,
			URL:   r.Metadata.URL,
			Score: r.Score,
			Text:  text,
		})
		if r.Metadata.URL != "" {
			packed.Sources = append(packed.Sources, fmt.Sprintf("%d. %s (%s)", idx, r.Metadata.Title, r.Metadata.URL))
		}
	}
	packed.Context = strings.Join(blocks, "\n")
	return packed
}

// Prompt renders the packed context as a generation prompt.
func Prompt(packed domain.PackedContext) string {
	return fmt.Sprintf("REPORTS:\n%s\n\nQUERY: %s", packed.Context, packed.Query)
}

// excerpt returns the first n runes of s.
func excerpt(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
