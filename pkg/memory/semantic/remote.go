package semantic

import (
	"context"
	"time"

	"github.com/tmc/langchaingo/embeddings"

	apperrors "github.com/relaymind/epimem/internal/errors"
	"github.com/relaymind/epimem/pkg/memory/resilience/breaker"
)

// Remote wraps a langchaingo embeddings.Embedder, calling it behind a
// circuit breaker and enforcing a per-request timeout. Batch embedding
// is preferred for pattern indexing since it amortizes the round trip.
type Remote struct {
	embedder  embeddings.Embedder
	dimension int
	timeout   time.Duration
	breaker   *breaker.Breaker
}

// NewRemote builds a Remote provider. dimension is the dimension this
// engine instance has committed to for the entity kinds it embeds;
// Remote does not infer it from the model, the caller configures it.
func NewRemote(embedder embeddings.Embedder, dimension int, timeout time.Duration, cb *breaker.Breaker) *Remote {
	return &Remote{embedder: embedder, dimension: dimension, timeout: timeout, breaker: cb}
}

func (r *Remote) Dimension() int { return r.dimension }

func (r *Remote) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := r.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (r *Remote) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var raw [][]float32
	call := func(ctx context.Context) error {
		var err error
		raw, err = r.embedder.EmbedDocuments(ctx, texts)
		return err
	}

	var err error
	if r.breaker != nil {
		err = r.breaker.Execute(callCtx, call)
	} else {
		err = call(callCtx)
	}
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeCircuitOpen) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeEmbedding, "remote embedding call failed")
	}

	out := make([][]float64, len(raw))
	for i, v := range raw {
		row := make([]float64, len(v))
		for j, f := range v {
			row[j] = float64(f)
		}
		if r.dimension > 0 && len(row) != r.dimension {
			return nil, apperrors.Newf(apperrors.ErrorTypeValidation,
				"remote provider returned dimension %d, engine expects %d", len(row), r.dimension)
		}
		out[i] = row
	}
	return out, nil
}
