package durable

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	apperrors "github.com/relaymind/epimem/internal/errors"
	"github.com/relaymind/epimem/pkg/memory/model"
	"github.com/relaymind/epimem/pkg/memory/resilience/keepalive"
	"github.com/relaymind/epimem/pkg/memory/resilience/pool"
	"github.com/relaymind/epimem/pkg/memory/resilience/retry"
	sharederrors "github.com/relaymind/epimem/pkg/shared/errors"
)

// Postgres is the Store implementation backed by PostgreSQL. The driver is
// selected by the URL scheme: "pgx" (or no scheme) uses pgx's native
// stdlib adapter; "postgres"/"postgresql" falls back to lib/pq, for
// environments where pgx's driver registration is undesirable.
//
// Every exported Store method is retried by retrier on a transient
// connection error (never on validation, conflict or not-found), and
// health checks run over a pool-of-connections guarded by keepalive so a
// stale connection is evicted before it ever reaches a caller.
type Postgres struct {
	db   *sqlx.DB
	opts OpenOptions
	log  *logrus.Logger

	pool      *pool.Pool
	keepalive *keepalive.Task
	retrier   *retry.Retrier
}

// sqlxPingFactory is a pool.Factory over a shared *sqlx.DB: connections are
// borrowed from sqlx's own internal pool rather than dialed directly, since
// database/sql already owns the socket lifecycle. pool.Pool layers bounded
// concurrency, staleness eviction and PoolExhausted signalling on top.
type sqlxPingFactory struct {
	db *sqlx.DB
}

func (f *sqlxPingFactory) Create(ctx context.Context) (interface{}, error) {
	return f.db.Connx(ctx)
}

func (f *sqlxPingFactory) Ping(ctx context.Context, conn interface{}) error {
	return conn.(*sqlx.Conn).PingContext(ctx)
}

func (f *sqlxPingFactory) Destroy(conn interface{}) error {
	return conn.(*sqlx.Conn).Close()
}

// Open connects to a Postgres durable store and verifies the schema
// version unless opts.AllowSchemaMismatch is set.
func Open(ctx context.Context, opts OpenOptions, log *logrus.Logger) (*Postgres, error) {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.PanicLevel)
	}

	driver := driverNameFor(opts.URL)
	db, err := sqlx.ConnectContext(ctx, driver, opts.URL)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrorTypeDatabase, "connect to durable store")
	}

	p := &Postgres{db: db, opts: opts, log: log}

	if !opts.DisableRetry {
		p.retrier = retry.NewDatabaseRetrier()
	}

	if opts.Pool.MaxConnections > 0 {
		p.pool = pool.New(opts.Pool, &sqlxPingFactory{db: db})
		conn, err := p.pool.Acquire(ctx)
		if err != nil {
			db.Close()
			return nil, apperrors.Wrapf(err, apperrors.ErrorTypeDatabase, "warm durable store connection pool")
		}
		conn.Release(true)

		if opts.KeepAliveInterval > 0 {
			p.keepalive = keepalive.New(p.pool, &sqlxPingFactory{db: db}, opts.KeepAliveInterval)
			p.keepalive.Start(ctx)
		}
	}

	version, err := p.SchemaVersion(ctx)
	if err != nil {
		p.Close()
		return nil, err
	}
	if version != SchemaVersion && !opts.AllowSchemaMismatch {
		p.Close()
		return nil, apperrors.Newf(apperrors.ErrorTypeDatabase,
			"schema version mismatch: store is at %d, engine expects %d", version, SchemaVersion)
	}

	return p, nil
}

// retry runs fn directly if no retrier is configured (tests driving an
// exact sqlmock expectation sequence set OpenOptions.DisableRetry), or
// under retrier.Do otherwise so a transient connection error is retried
// without ever replaying a business-logic error (conflict, validation,
// not-found) to the caller.
func (p *Postgres) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.retrier == nil {
		return fn(ctx)
	}
	return p.retrier.Do(ctx, fn)
}

func driverNameFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "pgx"
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return "postgres" // lib/pq
	default:
		return "pgx"
	}
}

func (p *Postgres) Close() error {
	if p.keepalive != nil {
		p.keepalive.Stop()
	}
	if p.pool != nil {
		p.pool.Close()
	}
	return p.db.Close()
}

func (p *Postgres) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := p.retry(ctx, func(ctx context.Context) error {
		return p.db.GetContext(ctx, &version, `SELECT version FROM schema_version LIMIT 1`)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperrors.NewDatabaseError("schema_version lookup", err)
		}
		return 0, apperrors.NewDatabaseError("schema_version lookup", err)
	}
	return version, nil
}

// episodeRow is the flattened row shape episodes(...) stores; steps,
// context, outcome, reward and tags are JSON-serialised columns.
type episodeRow struct {
	EpisodeID       string     `db:"episode_id"`
	TaskType        string     `db:"task_type"`
	TaskDescription string     `db:"task_description"`
	Context         []byte     `db:"context"`
	Steps           []byte     `db:"steps"`
	Outcome         []byte     `db:"outcome"`
	Reward          []byte     `db:"reward"`
	Patterns        []byte     `db:"patterns"`
	Domain          string     `db:"domain"`
	Language        string     `db:"language"`
	StartTime       time.Time  `db:"start_time"`
	EndTime         *time.Time `db:"end_time"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	ExtractionDeferred bool    `db:"pattern_extraction_deferred"`
}

func (p *Postgres) InsertEpisode(ctx context.Context, e *model.Episode) error {
	row, err := episodeToRow(e)
	if err != nil {
		return err
	}
	err = p.retry(ctx, func(ctx context.Context) error {
		_, err := p.db.NamedExecContext(ctx, `
			INSERT INTO episodes (episode_id, task_type, task_description, context, steps,
				outcome, reward, patterns, domain, language, start_time, end_time,
				created_at, updated_at, pattern_extraction_deferred)
			VALUES (:episode_id, :task_type, :task_description, :context, :steps,
				:outcome, :reward, :patterns, :domain, :language, :start_time, :end_time,
				:created_at, :updated_at, :pattern_extraction_deferred)`, row)
		return err
	})
	if err != nil {
		return apperrors.NewDatabaseError("insert episode", err)
	}
	return nil
}

func (p *Postgres) AppendStep(ctx context.Context, episodeID string, step model.Step) error {
	return p.retry(ctx, func(ctx context.Context) error {
		tx, err := p.db.BeginTxx(ctx, nil)
		if err != nil {
			return apperrors.NewDatabaseError("begin tx for append step", err)
		}
		defer tx.Rollback()

		var rawSteps []byte
		var completed sql.NullBool
		err = tx.QueryRowxContext(ctx,
			`SELECT steps, outcome IS NOT NULL FROM episodes WHERE episode_id = $1 FOR UPDATE`, episodeID).
			Scan(&rawSteps, &completed)
		if err == sql.ErrNoRows {
			return apperrors.NewNotFoundError("episode")
		}
		if err != nil {
			return apperrors.NewDatabaseError("lookup episode for append step", err)
		}
		if completed.Bool {
			return apperrors.NewConflictError("episode already completed")
		}

		var steps []model.Step
		if len(rawSteps) > 0 {
			if err := json.Unmarshal(rawSteps, &steps); err != nil {
				return apperrors.NewDatabaseError("decode steps", err)
			}
		}

		expected := 1
		if len(steps) > 0 {
			expected = steps[len(steps)-1].StepNumber + 1
		}
		for _, existing := range steps {
			if existing.StepNumber != step.StepNumber {
				continue
			}
			// idempotent re-submission of an already-applied (episode_id,
			// step_number) tuple, regardless of whether it was the tail step.
			if existing.Action == step.Action {
				return tx.Commit()
			}
			return apperrors.NewConflictError("step re-submitted with a different payload")
		}
		if step.StepNumber != expected {
			return apperrors.NewValidationError(fmt.Sprintf("out-of-order step: expected %d, got %d", expected, step.StepNumber))
		}

		steps = append(steps, step)
		encoded, err := json.Marshal(steps)
		if err != nil {
			return apperrors.NewDatabaseError("encode steps", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE episodes SET steps = $1, updated_at = now() WHERE episode_id = $2`, encoded, episodeID)
		if err != nil {
			return apperrors.NewDatabaseError("update steps", err)
		}
		return tx.Commit()
	})
}

func (p *Postgres) CompleteEpisode(ctx context.Context, episodeID string, outcome model.Outcome, reward model.Reward) error {
	outcomeJSON, err := json.Marshal(outcome)
	if err != nil {
		return apperrors.NewDatabaseError("encode outcome", err)
	}
	rewardJSON, err := json.Marshal(reward)
	if err != nil {
		return apperrors.NewDatabaseError("encode reward", err)
	}

	return p.retry(ctx, func(ctx context.Context) error {
		tx, err := p.db.BeginTxx(ctx, nil)
		if err != nil {
			return apperrors.NewDatabaseError("begin tx for complete episode", err)
		}
		defer tx.Rollback()

		var alreadyCompleted bool
		err = tx.QueryRowxContext(ctx, `SELECT outcome IS NOT NULL FROM episodes WHERE episode_id = $1 FOR UPDATE`, episodeID).
			Scan(&alreadyCompleted)
		if err == sql.ErrNoRows {
			return apperrors.NewNotFoundError("episode")
		}
		if err != nil {
			return apperrors.NewDatabaseError("lookup episode for completion", err)
		}
		if alreadyCompleted {
			return apperrors.NewConflictError("episode already completed")
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE episodes SET outcome = $1, reward = $2, end_time = now(), updated_at = now() WHERE episode_id = $3`,
			outcomeJSON, rewardJSON, episodeID)
		if err != nil {
			return apperrors.NewDatabaseError("complete episode", err)
		}
		return tx.Commit()
	})
}

// UpdateReward overwrites a completed episode's reward, used by the
// pattern pipeline to fold learning_bonus in once pattern extraction
// attributes new patterns to the episode.
func (p *Postgres) UpdateReward(ctx context.Context, episodeID string, reward model.Reward) error {
	rewardJSON, err := json.Marshal(reward)
	if err != nil {
		return apperrors.NewDatabaseError("encode reward", err)
	}
	var notFound bool
	err = p.retry(ctx, func(ctx context.Context) error {
		res, err := p.db.ExecContext(ctx,
			`UPDATE episodes SET reward = $1, updated_at = now() WHERE episode_id = $2`,
			rewardJSON, episodeID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		notFound = n == 0
		return nil
	})
	if err != nil {
		return apperrors.NewDatabaseError("update reward", err)
	}
	if notFound {
		return apperrors.NewNotFoundError("episode")
	}
	return nil
}

func (p *Postgres) GetEpisode(ctx context.Context, episodeID string) (*model.Episode, error) {
	var row episodeRow
	err := p.retry(ctx, func(ctx context.Context) error {
		return p.db.GetContext(ctx, &row, `SELECT * FROM episodes WHERE episode_id = $1`, episodeID)
	})
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("episode")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get episode", err)
	}
	tags, err := p.GetTags(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	return rowToEpisode(row, tags)
}

func (p *Postgres) ListEpisodes(ctx context.Context, filter model.EpisodeFilter) ([]*model.Episode, error) {
	where, args := buildEpisodeFilter(filter)
	query := `SELECT * FROM episodes`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY start_time DESC"
	query = p.db.Rebind(query)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	var rows []episodeRow
	if err := p.retry(ctx, func(ctx context.Context) error {
		return p.db.SelectContext(ctx, &rows, query, args...)
	}); err != nil {
		return nil, apperrors.NewDatabaseError("list episodes", err)
	}

	episodes := make([]*model.Episode, 0, len(rows))
	for _, row := range rows {
		tags, err := p.GetTags(ctx, row.EpisodeID)
		if err != nil {
			return nil, err
		}
		e, err := rowToEpisode(row, tags)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, e)
	}
	return episodes, nil
}

func buildEpisodeFilter(f model.EpisodeFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(f.TaskTypes) > 0 {
		clauses = append(clauses, "task_type = ANY(?)")
		args = append(args, taskTypesToStrings(f.TaskTypes))
	}
	if len(f.Domains) > 0 {
		clauses = append(clauses, "domain = ANY(?)")
		args = append(args, f.Domains)
	}
	if len(f.Languages) > 0 {
		clauses = append(clauses, "language = ANY(?)")
		args = append(args, f.Languages)
	}
	if f.TextSubstring != "" {
		clauses = append(clauses, "task_description ILIKE ?")
		args = append(args, "%"+f.TextSubstring+"%")
	}
	if f.CompletedOnly != nil {
		if *f.CompletedOnly {
			clauses = append(clauses, "outcome IS NOT NULL")
		} else {
			clauses = append(clauses, "outcome IS NULL")
		}
	}
	if f.OutcomeKind != nil {
		clauses = append(clauses, "outcome->>'kind' = ?")
		args = append(args, string(*f.OutcomeKind))
	}
	if f.RewardMin != nil {
		clauses = append(clauses, "(reward->>'composite')::double precision >= ?")
		args = append(args, *f.RewardMin)
	}
	if f.RewardMax != nil {
		clauses = append(clauses, "(reward->>'composite')::double precision <= ?")
		args = append(args, *f.RewardMax)
	}
	if f.DateRange != nil {
		clauses = append(clauses, "start_time BETWEEN ? AND ?")
		args = append(args, f.DateRange.From, f.DateRange.To)
	}
	if len(f.TagsAny) > 0 {
		clauses = append(clauses, "episode_id IN (SELECT episode_id FROM episode_tags WHERE tag = ANY(?))")
		args = append(args, f.TagsAny)
	}
	if len(f.TagsAll) > 0 {
		clauses = append(clauses, fmt.Sprintf(
			"episode_id IN (SELECT episode_id FROM episode_tags WHERE tag = ANY(?) GROUP BY episode_id HAVING COUNT(DISTINCT tag) = %d)",
			len(f.TagsAll)))
		args = append(args, f.TagsAll)
	}

	return strings.Join(clauses, " AND "), args
}

func taskTypesToStrings(tt []model.TaskType) []string {
	out := make([]string, len(tt))
	for i, t := range tt {
		out[i] = string(t)
	}
	return out
}

func (p *Postgres) DeleteEpisode(ctx context.Context, episodeID string) error {
	var affected int64
	err := p.retry(ctx, func(ctx context.Context) error {
		res, err := p.db.ExecContext(ctx, `DELETE FROM episodes WHERE episode_id = $1`, episodeID)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return apperrors.NewDatabaseError("delete episode", err)
	}
	if affected == 0 {
		return apperrors.NewNotFoundError("episode")
	}
	return nil
}

func (p *Postgres) StoreEpisodesBatch(ctx context.Context, episodes []*model.Episode) error {
	if len(episodes) == 0 {
		return nil
	}
	return p.retry(ctx, func(ctx context.Context) error {
		tx, err := p.db.BeginTxx(ctx, nil)
		if err != nil {
			return apperrors.NewDatabaseError("begin batch tx", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareNamedContext(ctx, `
			INSERT INTO episodes (episode_id, task_type, task_description, context, steps,
				outcome, reward, patterns, domain, language, start_time, end_time,
				created_at, updated_at, pattern_extraction_deferred)
			VALUES (:episode_id, :task_type, :task_description, :context, :steps,
				:outcome, :reward, :patterns, :domain, :language, :start_time, :end_time,
				:created_at, :updated_at, :pattern_extraction_deferred)`)
		if err != nil {
			return apperrors.NewDatabaseError("prepare batch insert", err)
		}
		defer stmt.Close()

		for i, e := range episodes {
			row, err := episodeToRow(e)
			if err != nil {
				return sharederrors.FailedTo(fmt.Sprintf("encode row %d in batch", i), err)
			}
			if _, err := stmt.ExecContext(ctx, row); err != nil {
				return apperrors.Wrapf(err, apperrors.ErrorTypeDatabase, "batch insert failed at row %d", i)
			}
		}
		return tx.Commit()
	})
}

func (p *Postgres) SetTags(ctx context.Context, episodeID string, tags []string) error {
	return p.retry(ctx, func(ctx context.Context) error {
		tx, err := p.db.BeginTxx(ctx, nil)
		if err != nil {
			return apperrors.NewDatabaseError("begin tx for set tags", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM episode_tags WHERE episode_id = $1`, episodeID); err != nil {
			return apperrors.NewDatabaseError("clear tags", err)
		}
		for _, tag := range tags {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO episode_tags (episode_id, tag, created_at) VALUES ($1, $2, now())
				 ON CONFLICT (episode_id, tag) DO NOTHING`, episodeID, tag); err != nil {
				return apperrors.NewDatabaseError("insert tag", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO tag_metadata (tag, usage_count, first_used, last_used)
				VALUES ($1, 1, now(), now())
				ON CONFLICT (tag) DO UPDATE SET usage_count = tag_metadata.usage_count + 1, last_used = now()`,
				tag); err != nil {
				return apperrors.NewDatabaseError("update tag metadata", err)
			}
		}
		return tx.Commit()
	})
}

func (p *Postgres) GetTags(ctx context.Context, episodeID string) ([]string, error) {
	var tags []string
	err := p.retry(ctx, func(ctx context.Context) error {
		return p.db.SelectContext(ctx, &tags, `SELECT tag FROM episode_tags WHERE episode_id = $1 ORDER BY tag`, episodeID)
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("get tags", err)
	}
	return tags, nil
}

func (p *Postgres) InsertRelationship(ctx context.Context, r *model.Relationship) error {
	metadataJSON, err := json.Marshal(r.Metadata)
	if err != nil {
		return apperrors.NewDatabaseError("encode relationship metadata", err)
	}
	err = p.retry(ctx, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO episode_relationships (relationship_id, from_episode_id, to_episode_id,
				relationship_type, reason, priority, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
			r.RelationshipID, r.FromEpisodeID, r.ToEpisodeID, string(r.Type), r.Reason, r.Priority, metadataJSON)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError("duplicate relationship")
		}
		return apperrors.NewDatabaseError("insert relationship", err)
	}
	return nil
}

func (p *Postgres) DeleteRelationship(ctx context.Context, relationshipID string) error {
	var affected int64
	err := p.retry(ctx, func(ctx context.Context) error {
		res, err := p.db.ExecContext(ctx, `DELETE FROM episode_relationships WHERE relationship_id = $1`, relationshipID)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return apperrors.NewDatabaseError("delete relationship", err)
	}
	if affected == 0 {
		return apperrors.NewNotFoundError("relationship")
	}
	return nil
}

func (p *Postgres) QueryRelationships(ctx context.Context, episodeID string) ([]*model.Relationship, error) {
	var out []*model.Relationship
	err := p.retry(ctx, func(ctx context.Context) error {
		rows, err := p.db.QueryxContext(ctx, `
			SELECT relationship_id, from_episode_id, to_episode_id, relationship_type, reason, priority, metadata, created_at
			FROM episode_relationships WHERE from_episode_id = $1 OR to_episode_id = $1`, episodeID)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = nil
		for rows.Next() {
			var r model.Relationship
			var relType string
			var metadataRaw []byte
			if err := rows.Scan(&r.RelationshipID, &r.FromEpisodeID, &r.ToEpisodeID, &relType, &r.Reason, &r.Priority, &metadataRaw, &r.CreatedAt); err != nil {
				return err
			}
			r.Type = model.RelationshipType(relType)
			if len(metadataRaw) > 0 {
				if err := json.Unmarshal(metadataRaw, &r.Metadata); err != nil {
					return err
				}
			}
			out = append(out, &r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("query relationships", err)
	}
	return out, nil
}

func (p *Postgres) UpsertPattern(ctx context.Context, pat *model.Pattern) error {
	payload, err := json.Marshal(pat)
	if err != nil {
		return apperrors.NewDatabaseError("encode pattern", err)
	}
	err = p.retry(ctx, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO patterns (pattern_id, kind, support, success_rate, payload, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (pattern_id) DO UPDATE SET
				support = EXCLUDED.support, success_rate = EXCLUDED.success_rate,
				payload = EXCLUDED.payload, updated_at = now()`,
			pat.PatternID, string(pat.Kind), pat.Support, pat.SuccessRate, payload)
		return err
	})
	if err != nil {
		return apperrors.NewDatabaseError("upsert pattern", err)
	}
	return nil
}

func (p *Postgres) GetPattern(ctx context.Context, patternID string) (*model.Pattern, error) {
	var payload []byte
	err := p.retry(ctx, func(ctx context.Context) error {
		return p.db.GetContext(ctx, &payload, `SELECT payload FROM patterns WHERE pattern_id = $1`, patternID)
	})
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("pattern")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get pattern", err)
	}
	var pat model.Pattern
	if err := json.Unmarshal(payload, &pat); err != nil {
		return nil, apperrors.NewDatabaseError("decode pattern", err)
	}
	return &pat, nil
}

func (p *Postgres) ListPatterns(ctx context.Context, filter model.PatternFilter) ([]*model.Pattern, error) {
	query := `SELECT payload FROM patterns`
	var args []interface{}
	var clauses []string
	if filter.Kind != nil {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(*filter.Kind))
	}
	if filter.MinSupport > 0 {
		clauses = append(clauses, "support >= ?")
		args = append(args, filter.MinSupport)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY success_rate DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}
	query = p.db.Rebind(query)

	var payloads [][]byte
	if err := p.retry(ctx, func(ctx context.Context) error {
		return p.db.SelectContext(ctx, &payloads, query, args...)
	}); err != nil {
		return nil, apperrors.NewDatabaseError("list patterns", err)
	}
	out := make([]*model.Pattern, 0, len(payloads))
	for _, payload := range payloads {
		var pat model.Pattern
		if err := json.Unmarshal(payload, &pat); err != nil {
			return nil, apperrors.NewDatabaseError("decode pattern", err)
		}
		out = append(out, &pat)
	}
	return out, nil
}

func (p *Postgres) StorePatternsBatch(ctx context.Context, patterns []*model.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	return p.retry(ctx, func(ctx context.Context) error {
		tx, err := p.db.BeginTxx(ctx, nil)
		if err != nil {
			return apperrors.NewDatabaseError("begin pattern batch tx", err)
		}
		defer tx.Rollback()

		for i, pat := range patterns {
			payload, err := json.Marshal(pat)
			if err != nil {
				return sharederrors.FailedTo(fmt.Sprintf("encode pattern row %d", i), err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO patterns (pattern_id, kind, support, success_rate, payload, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, now(), now())
				ON CONFLICT (pattern_id) DO UPDATE SET
					support = EXCLUDED.support, success_rate = EXCLUDED.success_rate,
					payload = EXCLUDED.payload, updated_at = now()`,
				pat.PatternID, string(pat.Kind), pat.Support, pat.SuccessRate, payload)
			if err != nil {
				return apperrors.Wrapf(err, apperrors.ErrorTypeDatabase, "pattern batch insert failed at row %d", i)
			}
		}
		return tx.Commit()
	})
}

func (p *Postgres) RecordAttribution(ctx context.Context, a model.Attribution) error {
	err := p.retry(ctx, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO pattern_attributions (episode_id, pattern_id, created_at)
			VALUES ($1, $2, now())
			ON CONFLICT (episode_id, pattern_id) DO NOTHING`, a.EpisodeID, a.PatternID)
		return err
	})
	if err != nil {
		return apperrors.NewDatabaseError("record attribution", err)
	}
	return nil
}

func (p *Postgres) ScanDeferredExtraction(ctx context.Context) ([]*model.Episode, error) {
	var rows []episodeRow
	err := p.retry(ctx, func(ctx context.Context) error {
		return p.db.SelectContext(ctx, &rows, `
			SELECT e.* FROM episodes e
			LEFT JOIN pattern_attributions a ON a.episode_id = e.episode_id
			WHERE e.outcome IS NOT NULL AND (e.pattern_extraction_deferred OR a.episode_id IS NULL)`)
	})
	if err != nil {
		return nil, apperrors.NewDatabaseError("scan deferred extraction", err)
	}
	out := make([]*model.Episode, 0, len(rows))
	for _, row := range rows {
		tags, err := p.GetTags(ctx, row.EpisodeID)
		if err != nil {
			return nil, err
		}
		e, err := rowToEpisode(row, tags)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (p *Postgres) MarkExtractionDeferred(ctx context.Context, episodeID string, deferred bool) error {
	err := p.retry(ctx, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `UPDATE episodes SET pattern_extraction_deferred = $1 WHERE episode_id = $2`, deferred, episodeID)
		return err
	})
	if err != nil {
		return apperrors.NewDatabaseError("mark extraction deferred", err)
	}
	return nil
}

func (p *Postgres) UpsertEmbedding(ctx context.Context, e *model.Embedding) error {
	vecJSON, err := json.Marshal(e.Vector)
	if err != nil {
		return apperrors.NewDatabaseError("encode embedding", err)
	}
	err = p.retry(ctx, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `
			INSERT INTO embeddings (entity_kind, entity_id, vector, dimension)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (entity_kind, entity_id) DO UPDATE SET vector = EXCLUDED.vector, dimension = EXCLUDED.dimension`,
			string(e.EntityKind), e.EntityID, vecJSON, e.Dimension)
		return err
	})
	if err != nil {
		return apperrors.NewDatabaseError("upsert embedding", err)
	}
	return nil
}

func (p *Postgres) GetEmbedding(ctx context.Context, kind model.EntityKind, entityID string) (*model.Embedding, error) {
	var vecJSON []byte
	var dim int
	err := p.retry(ctx, func(ctx context.Context) error {
		return p.db.QueryRowxContext(ctx,
			`SELECT vector, dimension FROM embeddings WHERE entity_kind = $1 AND entity_id = $2`,
			string(kind), entityID).Scan(&vecJSON, &dim)
	})
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("embedding")
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get embedding", err)
	}
	var vec []float64
	if err := json.Unmarshal(vecJSON, &vec); err != nil {
		return nil, apperrors.NewDatabaseError("decode embedding", err)
	}
	return &model.Embedding{EntityKind: kind, EntityID: entityID, Vector: vec, Dimension: dim}, nil
}

func isUniqueViolation(err error) bool {
	// pgx and lib/pq both surface SQLSTATE 23505 for unique_violation;
	// matching the message substring avoids an extra driver-specific import
	// for what is otherwise a one-line check.
	return err != nil && strings.Contains(err.Error(), "23505")
}

func episodeToRow(e *model.Episode) (episodeRow, error) {
	contextJSON, err := json.Marshal(e.Context)
	if err != nil {
		return episodeRow{}, apperrors.NewDatabaseError("encode context", err)
	}
	stepsJSON, err := json.Marshal(e.Steps)
	if err != nil {
		return episodeRow{}, apperrors.NewDatabaseError("encode steps", err)
	}
	var outcomeJSON, rewardJSON []byte
	if e.Outcome != nil {
		outcomeJSON, err = json.Marshal(e.Outcome)
		if err != nil {
			return episodeRow{}, apperrors.NewDatabaseError("encode outcome", err)
		}
	}
	if e.Reward != nil {
		rewardJSON, err = json.Marshal(e.Reward)
		if err != nil {
			return episodeRow{}, apperrors.NewDatabaseError("encode reward", err)
		}
	}
	patternsJSON, err := json.Marshal(e.Patterns)
	if err != nil {
		return episodeRow{}, apperrors.NewDatabaseError("encode patterns", err)
	}

	return episodeRow{
		EpisodeID:          e.EpisodeID,
		TaskType:           string(e.TaskType),
		TaskDescription:    e.TaskDescription,
		Context:            contextJSON,
		Steps:              stepsJSON,
		Outcome:            outcomeJSON,
		Reward:             rewardJSON,
		Patterns:           patternsJSON,
		Domain:             e.Context.Domain,
		Language:           e.Context.Language,
		StartTime:          e.StartTime,
		EndTime:            e.EndTime,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
		ExtractionDeferred: e.PatternExtractionDeferred,
	}, nil
}

func rowToEpisode(row episodeRow, tags []string) (*model.Episode, error) {
	e := &model.Episode{
		EpisodeID:                 row.EpisodeID,
		TaskType:                  model.TaskType(row.TaskType),
		TaskDescription:           row.TaskDescription,
		StartTime:                 row.StartTime,
		EndTime:                   row.EndTime,
		CreatedAt:                 row.CreatedAt,
		UpdatedAt:                 row.UpdatedAt,
		Tags:                      tags,
		PatternExtractionDeferred: row.ExtractionDeferred,
	}
	if len(row.Context) > 0 {
		if err := json.Unmarshal(row.Context, &e.Context); err != nil {
			return nil, apperrors.NewDatabaseError("decode context", err)
		}
	}
	if len(row.Steps) > 0 {
		if err := json.Unmarshal(row.Steps, &e.Steps); err != nil {
			return nil, apperrors.NewDatabaseError("decode steps", err)
		}
	}
	if len(row.Outcome) > 0 {
		var outcome model.Outcome
		if err := json.Unmarshal(row.Outcome, &outcome); err != nil {
			return nil, apperrors.NewDatabaseError("decode outcome", err)
		}
		e.Outcome = &outcome
	}
	if len(row.Reward) > 0 {
		var reward model.Reward
		if err := json.Unmarshal(row.Reward, &reward); err != nil {
			return nil, apperrors.NewDatabaseError("decode reward", err)
		}
		e.Reward = &reward
	}
	if len(row.Patterns) > 0 {
		if err := json.Unmarshal(row.Patterns, &e.Patterns); err != nil {
			return nil, apperrors.NewDatabaseError("decode patterns", err)
		}
	}
	return e, nil
}
