package analyzer

import (
	"strings"
	"unicode"
)

// KeywordFilter splits text on whitespace and keeps only tokens that
// belong to a fixed vocabulary. Matching is case-insensitive and exact:
// no stemming, no punctuation stripping.
type KeywordFilter struct {
	vocab map[string]struct{}
}

// NewKeywordFilter creates a filter over a copy of vocabulary.
func NewKeywordFilter(vocabulary []string) *KeywordFilter {
	vocab := make(map[string]struct{}, len(vocabulary))
	for _, w := range vocabulary {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		vocab[w] = struct{}{}
	}
	return &KeywordFilter{vocab: vocab}
}

// Extract returns the lowercase vocabulary words found in text, in order,
// one element per occurrence.
func (f *KeywordFilter) Extract(text string) []string {
	var out []string
	for _, token := range strings.Fields(text) {
		word := strings.ToLower(token)
		if _, ok := f.vocab[word]; ok {
			out = append(out, word)
		}
	}
	return out
}

// Contains reports whether word is in the vocabulary.
func (f *KeywordFilter) Contains(word string) bool {
	_, ok := f.vocab[strings.ToLower(word)]
	return ok
}

// Size returns the number of distinct vocabulary terms.
func (f *KeywordFilter) Size() int {
	return len(f.vocab)
}

// Terms splits text into lowercase alphanumeric terms. It is the
// tokenizer used by the local hash embedder, not by the keyword filter.
func Terms(text string) []string {
	words := splitWords(text)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return words
}

// splitWords splits text into words using unicode word boundaries.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
		} else {
			if current.Len() > 0 {
				words = append(words, current.String())
				current.Reset()
			}
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}

	return words
}
