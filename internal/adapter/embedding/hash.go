package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"threatfeed/internal/adapter/analyzer"
)

// HashEmbedder is a local, deterministic embedder based on signed feature
// hashing of lowercase terms. Texts sharing vocabulary land near each
// other; no network or model weights are involved.
type HashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &HashEmbedder{dimension: dimension}
}

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dimension)
	for _, term := range analyzer.Terms(text) {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimension))
		// the high bit picks the sign so collisions tend to cancel
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}

func (e *HashEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashEmbedder) ModelName() string {
	return "fnv-hash"
}
