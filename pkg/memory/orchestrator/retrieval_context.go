package orchestrator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaymind/epimem/pkg/memory/retrieval"
	"github.com/relaymind/epimem/pkg/shared/logging"
)

// RetrieveContext ranks episodes relevant to req.Query. If the embedding
// provider is unavailable, it falls back to recency x reward ranking and
// the result's SemanticUsed flag is false; no error is surfaced for that
// reason alone.
func (o *Orchestrator) RetrieveContext(ctx context.Context, req RetrieveContextRequest) (retrieval.Result, error) {
	if err := o.validate.Struct(req); err != nil {
		return retrieval.Result{}, err
	}

	start := time.Now()
	result, err := o.retrieval.Retrieve(ctx, retrieval.Query{
		Text:   req.Query,
		Filter: req.Filter,
		Limit:  req.Limit,
	})
	if err != nil {
		return retrieval.Result{}, err
	}

	if o.metrics != nil {
		o.metrics.ObserveRetrievalLatency(result.SemanticUsed, time.Since(start).Seconds())
	}
	o.log.WithFields(logrus.Fields(logging.NewFields().Component("orchestrator").Operation("retrieve_context").Count(len(result.Episodes)))).
		Debug("retrieve_context completed")
	return result, nil
}
