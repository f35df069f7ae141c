package semantic

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
)

const defaultDimension = 384

// Local is an in-process, deterministic embedding provider: the same
// text always hashes to the same vector, with no network dependency.
// It is not a real semantic model — it uses the hashing trick (each
// word's FNV-1a hash selects and signs a dimension) so that lexically
// similar text produces similar vectors, which is good enough for
// exercising the retrieval and pattern-dedup pipelines without a model
// server.
type Local struct {
	dimension int
	log       *logrus.Logger
}

// NewLocal builds a Local provider with the given dimension, falling
// back to the default dimension for a zero or negative value.
func NewLocal(dimension int, log *logrus.Logger) *Local {
	if dimension <= 0 {
		dimension = defaultDimension
	}
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.PanicLevel)
	}
	return &Local{dimension: dimension, log: log}
}

func (l *Local) Dimension() int { return l.dimension }

// Embed hashes text into a normalized vector of Dimension() reals. Empty
// or whitespace-only text yields a zero vector rather than an error,
// since a caller embedding a candidate signature built from optional
// fields shouldn't have to special-case a blank one.
func (l *Local) Embed(ctx context.Context, text string) ([]float64, error) {
	vec := make([]float64, l.dimension)
	if strings.TrimSpace(text) == "" {
		return vec, nil
	}
	words := strings.Fields(strings.ToLower(text))
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()
		idx := int(sum % uint64(l.dimension))
		sign := 1.0
		if (sum>>63)&1 == 1 {
			sign = -1.0
		}
		vec[idx] += sign
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch embeds each text independently; Local has no batching
// advantage since there's no network round trip to amortize.
func (l *Local) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v, err := l.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func normalize(vec []float64) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += v * v
	}
	if sumSquares == 0 {
		return
	}
	norm := math.Sqrt(sumSquares)
	for i := range vec {
		vec[i] /= norm
	}
}
