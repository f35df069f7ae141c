// Package durable defines the authoritative relational storage contract
// for episodes, patterns, tags, relationships and embeddings, plus a
// Postgres implementation.
package durable

import (
	"context"
	"time"

	"github.com/relaymind/epimem/pkg/memory/model"
	"github.com/relaymind/epimem/pkg/memory/resilience/pool"
)

// SchemaVersion is the logical schema version this implementation expects.
// Store refuses to operate against a mismatched version unless the caller
// passes AllowSchemaMismatch to Open.
const SchemaVersion = 1

// Store is the durable backend contract. It is the sole writer of
// canonical data; implementations must serialise writes per connection
// and order them across connections only by transaction commit.
type Store interface {
	// Episodes

	InsertEpisode(ctx context.Context, e *model.Episode) error
	AppendStep(ctx context.Context, episodeID string, step model.Step) error
	CompleteEpisode(ctx context.Context, episodeID string, outcome model.Outcome, reward model.Reward) error
	UpdateReward(ctx context.Context, episodeID string, reward model.Reward) error
	GetEpisode(ctx context.Context, episodeID string) (*model.Episode, error)
	ListEpisodes(ctx context.Context, filter model.EpisodeFilter) ([]*model.Episode, error)
	DeleteEpisode(ctx context.Context, episodeID string) error
	StoreEpisodesBatch(ctx context.Context, episodes []*model.Episode) error

	// Tags

	SetTags(ctx context.Context, episodeID string, tags []string) error
	GetTags(ctx context.Context, episodeID string) ([]string, error)

	// Relationships

	InsertRelationship(ctx context.Context, r *model.Relationship) error
	DeleteRelationship(ctx context.Context, relationshipID string) error
	QueryRelationships(ctx context.Context, episodeID string) ([]*model.Relationship, error)

	// Patterns

	UpsertPattern(ctx context.Context, p *model.Pattern) error
	GetPattern(ctx context.Context, patternID string) (*model.Pattern, error)
	ListPatterns(ctx context.Context, filter model.PatternFilter) ([]*model.Pattern, error)
	StorePatternsBatch(ctx context.Context, patterns []*model.Pattern) error

	// Attribution — enforces the at-most-once (episode_id, pattern_id)
	// guarantee with a unique constraint; RecordAttribution must be safe
	// to call twice with the same pair and return nil both times.
	RecordAttribution(ctx context.Context, a model.Attribution) error

	// Deferred extraction scan — episodes flagged pattern_extraction_deferred
	// or completed without any recorded attribution, for startup recovery.
	ScanDeferredExtraction(ctx context.Context) ([]*model.Episode, error)
	MarkExtractionDeferred(ctx context.Context, episodeID string, deferred bool) error

	// Embeddings

	UpsertEmbedding(ctx context.Context, e *model.Embedding) error
	GetEmbedding(ctx context.Context, kind model.EntityKind, entityID string) (*model.Embedding, error)

	// SchemaVersion reports the schema_version row recorded at migration time.
	SchemaVersion(ctx context.Context) (int, error)

	Close() error
}

// OpenOptions configures Open.
type OpenOptions struct {
	URL                 string
	AuthToken           string
	MaxBatchSize        int
	QueryTimeout        time.Duration
	AllowSchemaMismatch bool

	// Pool bounds the health-check connection pool Open guards with a
	// semaphore and keeps warm in the background. The zero value disables
	// pooled health checks (AppendStep/CompleteEpisode/etc. still run
	// over sqlx's own internal pool either way).
	Pool pool.Config

	// KeepAliveInterval, when non-zero, starts a background task that
	// pings one of Pool's connections per interval and discards it if the
	// ping fails.
	KeepAliveInterval time.Duration

	// DisableRetry skips wrapping Store calls in retry.NewDatabaseRetrier.
	// Tests that drive a sqlmock expectation sequence exactly once should
	// set this, since a retry would replay the mock's expectations.
	DisableRetry bool
}
