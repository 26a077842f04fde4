package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coding-cat0-0/streaming-site/internal/models"
)

// PostgresConfig controls the pgx connection pool.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	AcquireTimeout  time.Duration
	AppName         string
}

// PostgresRepository persists pipeline entities in Postgres via pgxpool.
type PostgresRepository struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
}

// NewPostgresRepository connects to Postgres, applies the schema, and returns
// a ready repository.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if name := strings.TrimSpace(cfg.AppName); name != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = name
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	repo := &PostgresRepository{pool: pool, acquireTimeout: cfg.AcquireTimeout}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

// Close releases the underlying pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS videos (
			id TEXT PRIMARY KEY,
			creator_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			tags TEXT[] NOT NULL DEFAULT '{}',
			original_key TEXT NOT NULL DEFAULT '',
			renditions JSONB NOT NULL DEFAULT '{}',
			manifest_url TEXT NOT NULL DEFAULT '',
			thumbnail_url TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'processing',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS watch_sessions (
			id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL,
			viewer_id TEXT NOT NULL,
			creator_id TEXT NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			last_resume TIMESTAMPTZ,
			end_time TIMESTAMPTZ,
			duration_seconds BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS watch_sessions_open_pair_idx ON watch_sessions (video_id, viewer_id) WHERE end_time IS NULL`,
		`CREATE TABLE IF NOT EXISTS engagement (
			video_id TEXT PRIMARY KEY,
			creator_id TEXT NOT NULL DEFAULT '',
			views BIGINT NOT NULL DEFAULT 0,
			likes BIGINT NOT NULL DEFAULT 0,
			dislikes BIGINT NOT NULL DEFAULT 0,
			comments BIGINT NOT NULL DEFAULT 0,
			subscribers BIGINT NOT NULL DEFAULT 0,
			watch_time_seconds BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS watch_history (
			id TEXT PRIMARY KEY,
			viewer_id TEXT NOT NULL,
			video_id TEXT NOT NULL,
			video_url TEXT NOT NULL DEFAULT '',
			watched_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS trending (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			creator_id TEXT NOT NULL,
			video_id TEXT NOT NULL,
			views BIGINT NOT NULL,
			duration_seconds BIGINT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			computed_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS trending_run_idx ON trending (run_id)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id TEXT PRIMARY KEY,
			video_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			parent_id TEXT,
			body TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS comments_parent_idx ON comments (parent_id)`,
		`CREATE TABLE IF NOT EXISTS push_subscriptions (
			user_id TEXT PRIMARY KEY,
			endpoint TEXT NOT NULL,
			p256dh TEXT NOT NULL,
			auth TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) acquireCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.acquireTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.acquireTimeout)
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	return r.pool.Ping(ctx)
}

const videoColumns = `id, creator_id, title, description, category, tags, original_key, renditions, manifest_url, thumbnail_url, status, error, created_at, updated_at`

func scanVideo(row pgx.Row) (models.Video, error) {
	var video models.Video
	var renditions []byte
	var status string
	err := row.Scan(
		&video.ID, &video.CreatorID, &video.Title, &video.Description, &video.Category,
		&video.Tags, &video.OriginalKey, &renditions, &video.ManifestURL, &video.ThumbnailURL,
		&status, &video.Error, &video.CreatedAt, &video.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Video{}, ErrNotFound
		}
		return models.Video{}, err
	}
	video.Status = models.VideoStatus(status)
	if len(renditions) > 0 {
		if err := json.Unmarshal(renditions, &video.Renditions); err != nil {
			return models.Video{}, fmt.Errorf("decode renditions: %w", err)
		}
	}
	if len(video.Renditions) == 0 {
		video.Renditions = nil
	}
	return video, nil
}

func (r *PostgresRepository) CreateVideo(ctx context.Context, params CreateVideoParams) (models.Video, error) {
	if strings.TrimSpace(params.CreatorID) == "" {
		return models.Video{}, fmt.Errorf("creator id is required")
	}
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	now := time.Now().UTC()
	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = uuid.NewString()
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO videos (id, creator_id, title, description, category, tags, original_key, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 RETURNING `+videoColumns,
		id, params.CreatorID, strings.TrimSpace(params.Title), params.Description,
		params.Category, params.Tags, params.OriginalKey, string(models.StatusProcessing), now,
	)
	return scanVideo(row)
}

func (r *PostgresRepository) GetVideo(ctx context.Context, id string) (models.Video, error) {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id)
	return scanVideo(row)
}

func (r *PostgresRepository) FinalizeVideo(ctx context.Context, id string, params FinalizeVideoParams) (models.Video, error) {
	if err := validateFinalize(params); err != nil {
		return models.Video{}, err
	}
	encoded, err := json.Marshal(params.Renditions)
	if err != nil {
		return models.Video{}, fmt.Errorf("encode renditions: %w", err)
	}
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx,
		`UPDATE videos
		 SET renditions = $2, manifest_url = $3, thumbnail_url = $4, status = $5, error = '', updated_at = $6
		 WHERE id = $1
		 RETURNING `+videoColumns,
		id, encoded, params.ManifestURL, params.ThumbnailURL, string(models.StatusAvailable), time.Now().UTC(),
	)
	return scanVideo(row)
}

func (r *PostgresRepository) MarkVideoFailed(ctx context.Context, id, reason string) (models.Video, error) {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx,
		`UPDATE videos SET status = $2, error = $3, updated_at = $4 WHERE id = $1 RETURNING `+videoColumns,
		id, string(models.StatusFailed), strings.TrimSpace(reason), time.Now().UTC(),
	)
	return scanVideo(row)
}

const sessionColumns = `id, video_id, viewer_id, creator_id, start_time, last_resume, end_time, duration_seconds`

func scanSession(row pgx.Row) (models.WatchSession, error) {
	var session models.WatchSession
	err := row.Scan(
		&session.ID, &session.VideoID, &session.ViewerID, &session.CreatorID,
		&session.StartTime, &session.LastResume, &session.EndTime, &session.DurationSeconds,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.WatchSession{}, ErrNotFound
		}
		return models.WatchSession{}, err
	}
	return session, nil
}

func (r *PostgresRepository) CreateWatchSession(ctx context.Context, session models.WatchSession) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO watch_sessions (id, video_id, viewer_id, creator_id, start_time, last_resume, end_time, duration_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		session.ID, session.VideoID, session.ViewerID, session.CreatorID,
		session.StartTime, session.LastResume, session.EndTime, session.DurationSeconds,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: viewer %s on video %s", ErrOpenSession, session.ViewerID, session.VideoID)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PostgresRepository) GetWatchSession(ctx context.Context, id string) (models.WatchSession, error) {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM watch_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (r *PostgresRepository) OpenWatchSession(ctx context.Context, videoID, viewerID string) (models.WatchSession, error) {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	row := r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM watch_sessions
		 WHERE video_id = $1 AND viewer_id = $2 AND end_time IS NULL
		 LIMIT 1`,
		videoID, viewerID,
	)
	return scanSession(row)
}

func (r *PostgresRepository) UpdateWatchSession(ctx context.Context, session models.WatchSession) error {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	tag, err := r.pool.Exec(ctx,
		`UPDATE watch_sessions
		 SET last_resume = $2, end_time = $3, duration_seconds = $4
		 WHERE id = $1`,
		session.ID, session.LastResume, session.EndTime, session.DurationSeconds,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) WatchAggregates(ctx context.Context) ([]WatchAggregate, error) {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx,
		`SELECT video_id, creator_id, COUNT(*), COALESCE(SUM(duration_seconds), 0)
		 FROM watch_sessions
		 GROUP BY video_id, creator_id
		 ORDER BY video_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WatchAggregate
	for rows.Next() {
		var agg WatchAggregate
		if err := rows.Scan(&agg.VideoID, &agg.CreatorID, &agg.Sessions, &agg.DurationSeconds); err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) EnsureEngagement(ctx context.Context, videoID, creatorID string) error {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO engagement (video_id, creator_id) VALUES ($1, $2)
		 ON CONFLICT (video_id) DO NOTHING`,
		videoID, creatorID,
	)
	return err
}

func (r *PostgresRepository) AddEngagement(ctx context.Context, videoID string, delta EngagementDelta) error {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO engagement (video_id, views, likes, dislikes, comments, subscribers, watch_time_seconds)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (video_id) DO UPDATE SET
			views = engagement.views + EXCLUDED.views,
			likes = engagement.likes + EXCLUDED.likes,
			dislikes = engagement.dislikes + EXCLUDED.dislikes,
			comments = engagement.comments + EXCLUDED.comments,
			subscribers = engagement.subscribers + EXCLUDED.subscribers,
			watch_time_seconds = engagement.watch_time_seconds + EXCLUDED.watch_time_seconds`,
		videoID, delta.Views, delta.Likes, delta.Dislikes, delta.Comments, delta.Subscribers, delta.WatchTimeSeconds,
	)
	return err
}

func (r *PostgresRepository) GetEngagement(ctx context.Context, videoID string) (models.EngagementCounters, error) {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	var counters models.EngagementCounters
	err := r.pool.QueryRow(ctx,
		`SELECT video_id, creator_id, views, likes, dislikes, comments, subscribers, watch_time_seconds
		 FROM engagement WHERE video_id = $1`,
		videoID,
	).Scan(
		&counters.VideoID, &counters.CreatorID, &counters.Views, &counters.Likes,
		&counters.Dislikes, &counters.Comments, &counters.Subscribers, &counters.WatchTimeSeconds,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.EngagementCounters{}, ErrNotFound
		}
		return models.EngagementCounters{}, err
	}
	return counters, nil
}

func (r *PostgresRepository) AppendHistory(ctx context.Context, entry models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO watch_history (id, viewer_id, video_id, video_url, watched_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.ViewerID, entry.VideoID, entry.VideoURL, entry.WatchedAt,
	)
	return err
}

func (r *PostgresRepository) SaveTrendingRun(ctx context.Context, entries []models.TrendingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, entry := range entries {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trending (id, run_id, creator_id, video_id, views, duration_seconds, score, computed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			entry.ID, entry.RunID, entry.CreatorID, entry.VideoID,
			entry.Views, entry.DurationSeconds, entry.Score, entry.ComputedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) LatestTrendingRun(ctx context.Context) ([]models.TrendingEntry, error) {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx,
		`SELECT id, run_id, creator_id, video_id, views, duration_seconds, score, computed_at
		 FROM trending
		 WHERE run_id = (SELECT run_id FROM trending ORDER BY computed_at DESC LIMIT 1)
		 ORDER BY score DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.TrendingEntry
	for rows.Next() {
		var entry models.TrendingEntry
		if err := rows.Scan(
			&entry.ID, &entry.RunID, &entry.CreatorID, &entry.VideoID,
			&entry.Views, &entry.DurationSeconds, &entry.Score, &entry.ComputedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) AddComment(ctx context.Context, comment models.Comment) error {
	if comment.ID == "" {
		return fmt.Errorf("comment id is required")
	}
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	if comment.ParentID != nil {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM comments WHERE id = $1)`, *comment.ParentID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO comments (id, video_id, user_id, parent_id, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		comment.ID, comment.VideoID, comment.UserID, comment.ParentID, comment.Text, comment.CreatedAt,
	)
	return err
}

func (r *PostgresRepository) ListReplies(ctx context.Context, parentID string) ([]models.Comment, error) {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	rows, err := r.pool.Query(ctx,
		`SELECT id, video_id, user_id, parent_id, body, created_at
		 FROM comments WHERE parent_id = $1 ORDER BY created_at`,
		parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Comment
	for rows.Next() {
		var comment models.Comment
		if err := rows.Scan(&comment.ID, &comment.VideoID, &comment.UserID, &comment.ParentID, &comment.Text, &comment.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, comment)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) DeleteComment(ctx context.Context, id string) (int, error) {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	tag, err := r.pool.Exec(ctx,
		`WITH RECURSIVE subtree AS (
			SELECT id FROM comments WHERE id = $1
			UNION ALL
			SELECT c.id FROM comments c JOIN subtree s ON c.parent_id = s.id
		 )
		 DELETE FROM comments WHERE id IN (SELECT id FROM subtree)`,
		id,
	)
	if err != nil {
		return 0, err
	}
	removed := int(tag.RowsAffected())
	if removed == 0 {
		return 0, ErrNotFound
	}
	return removed, nil
}

func (r *PostgresRepository) SavePushSubscription(ctx context.Context, sub models.PushSubscription) error {
	if strings.TrimSpace(sub.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET endpoint = EXCLUDED.endpoint, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth`,
		sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth, sub.CreatedAt,
	)
	return err
}

func (r *PostgresRepository) GetPushSubscription(ctx context.Context, userID string) (models.PushSubscription, error) {
	ctx, cancel := r.acquireCtx(ctx)
	defer cancel()
	var sub models.PushSubscription
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, endpoint, p256dh, auth, created_at FROM push_subscriptions WHERE user_id = $1`,
		userID,
	).Scan(&sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.PushSubscription{}, ErrNotFound
		}
		return models.PushSubscription{}, err
	}
	return sub, nil
}

var _ Repository = (*PostgresRepository)(nil)
