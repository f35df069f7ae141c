package semantic

import (
	"context"
	"hash/fnv"
)

// Mock is a deterministic pseudo-embedding provider for tests only.
// Its vectors are lexically meaningful at best — two texts sharing
// words land close together, nothing more — so every caller that
// surfaces a Mock-derived result must flag it semantic=false, the same
// as an unavailable provider.
type Mock struct {
	dimension int
	FailWith  error // when set, Embed/EmbedBatch return this error unconditionally
}

// NewMock builds a Mock provider of the given dimension.
func NewMock(dimension int) *Mock {
	if dimension <= 0 {
		dimension = defaultDimension
	}
	return &Mock{dimension: dimension}
}

func (m *Mock) Dimension() int { return m.dimension }

func (m *Mock) Embed(ctx context.Context, text string) ([]float64, error) {
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float64, m.dimension)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float64(int64(seed>>40)) / float64(1<<23)
	}
	return vec, nil
}

func (m *Mock) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
