// Package semantic provides the embedding provider abstraction: Local
// (in-process, deterministic), Remote (network-bound, behind the
// circuit breaker), and Mock (deterministic pseudo-embedding, tests
// only — every result it produces is lexically meaningful only and
// must be flagged semantic=false wherever surfaced).
package semantic

import "context"

// Provider embeds text into fixed-dimension vectors. Every vector a
// given Provider instance produces shares Dimension(); callers enforce
// that invariant at insert time.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
	Dimension() int
}
