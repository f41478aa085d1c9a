package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/rollcall/internal/config"
	"github.com/your-org/rollcall/internal/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS identities (
	scope         TEXT NOT NULL,
	external_id   BIGINT NOT NULL,
	display_name  TEXT NOT NULL DEFAULT '',
	identity_type TEXT NOT NULL,
	version       DOUBLE PRECISION,
	synced_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (scope, external_id)
);

ALTER TABLE identities ADD COLUMN IF NOT EXISTS roster_position INT NOT NULL DEFAULT 0;

CREATE TABLE IF NOT EXISTS identity_media (
	scope       TEXT NOT NULL,
	external_id BIGINT NOT NULL,
	position    INT NOT NULL,
	asset_type  TEXT NOT NULL,
	remote_url  TEXT NOT NULL DEFAULT '',
	local_path  TEXT NOT NULL DEFAULT '',
	file_name   TEXT NOT NULL DEFAULT '',
	embedding   vector,
	error       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (scope, external_id, position),
	FOREIGN KEY (scope, external_id) REFERENCES identities (scope, external_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS attendance_events (
	id            UUID PRIMARY KEY,
	camera_id     TEXT NOT NULL,
	class_id      TEXT NOT NULL,
	track_id      TEXT NOT NULL,
	external_id   BIGINT,
	display_name  TEXT NOT NULL DEFAULT '',
	identity_type TEXT NOT NULL DEFAULT '',
	similarity    REAL NOT NULL,
	confidence    REAL NOT NULL,
	snapshot_key  TEXT NOT NULL DEFAULT '',
	ts            TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS attendance_events_class_ts ON attendance_events (class_id, ts);
`

// EnsureSchema creates tables and the pgvector extension if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// --- Identities ---

func (s *PostgresStore) ListIdentities(ctx context.Context, scope string) ([]models.Identity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT scope, external_id, display_name, identity_type, roster_position, version, synced_at
		 FROM identities WHERE scope = $1 ORDER BY roster_position, external_id`, scope)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var ids []models.Identity
	pos := make(map[int64]int)
	for rows.Next() {
		var id models.Identity
		if err := rows.Scan(&id.Scope, &id.ExternalID, &id.DisplayName, &id.IdentityType, &id.RosterPosition, &id.Version, &id.SyncedAt); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		pos[id.ExternalID] = len(ids)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	media, err := s.listMedia(ctx, `WHERE scope = $1`, scope)
	if err != nil {
		return nil, err
	}
	for _, m := range media {
		if i, ok := pos[m.externalID]; ok {
			ids[i].Media = append(ids[i].Media, m.asset)
		}
	}
	return ids, nil
}

func (s *PostgresStore) GetIdentity(ctx context.Context, scope string, externalID int64) (*models.Identity, error) {
	id := &models.Identity{}
	err := s.pool.QueryRow(ctx,
		`SELECT scope, external_id, display_name, identity_type, roster_position, version, synced_at
		 FROM identities WHERE scope = $1 AND external_id = $2`, scope, externalID,
	).Scan(&id.Scope, &id.ExternalID, &id.DisplayName, &id.IdentityType, &id.RosterPosition, &id.Version, &id.SyncedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}

	media, err := s.listMedia(ctx, `WHERE scope = $1 AND external_id = $2`, scope, externalID)
	if err != nil {
		return nil, err
	}
	for _, m := range media {
		id.Media = append(id.Media, m.asset)
	}
	return id, nil
}

type mediaRow struct {
	externalID int64
	asset      models.MediaAsset
}

func (s *PostgresStore) listMedia(ctx context.Context, where string, args ...any) ([]mediaRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT external_id, asset_type, remote_url, local_path, file_name, embedding, error
		 FROM identity_media `+where+` ORDER BY external_id, position`, args...)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	var out []mediaRow
	for rows.Next() {
		var r mediaRow
		var vec *pgvector.Vector
		if err := rows.Scan(&r.externalID, &r.asset.AssetType, &r.asset.RemoteURL,
			&r.asset.LocalPath, &r.asset.FileName, &vec, &r.asset.Error); err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		if vec != nil {
			r.asset.Embedding = vec.Slice()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertIdentities replaces the given identities and their media inside one
// transaction, sent as a single batch.
func (s *PostgresStore) UpsertIdentities(ctx context.Context, ids []models.Identity) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i := range ids {
		id := &ids[i]
		syncedAt := id.SyncedAt
		if syncedAt.IsZero() {
			syncedAt = time.Now()
		}
		batch.Queue(
			`INSERT INTO identities (scope, external_id, display_name, identity_type, roster_position, version, synced_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (scope, external_id) DO UPDATE SET
			   display_name = EXCLUDED.display_name,
			   identity_type = EXCLUDED.identity_type,
			   roster_position = EXCLUDED.roster_position,
			   version = EXCLUDED.version,
			   synced_at = EXCLUDED.synced_at`,
			id.Scope, id.ExternalID, id.DisplayName, string(id.IdentityType), id.RosterPosition, id.Version, syncedAt)
		batch.Queue(`DELETE FROM identity_media WHERE scope = $1 AND external_id = $2`, id.Scope, id.ExternalID)
		for pos, m := range id.Media {
			var vec *pgvector.Vector
			if m.Embedding != nil {
				v := pgvector.NewVector(m.Embedding)
				vec = &v
			}
			batch.Queue(
				`INSERT INTO identity_media (scope, external_id, position, asset_type, remote_url, local_path, file_name, embedding, error)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				id.Scope, id.ExternalID, pos, string(m.AssetType), m.RemoteURL, m.LocalPath, m.FileName, vec, m.Error)
		}
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert identities: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Retain(ctx context.Context, scope string, roster []int64) ([]int64, error) {
	if roster == nil {
		roster = []int64{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin retain: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`DELETE FROM identities WHERE scope = $1 AND external_id <> ALL($2) RETURNING external_id`,
		scope, roster)
	if err != nil {
		return nil, fmt.Errorf("delete missing identities: %w", err)
	}
	deleted, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("delete missing identities: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE identities AS i SET roster_position = r.pos - 1
		 FROM unnest($2::bigint[]) WITH ORDINALITY AS r(external_id, pos)
		 WHERE i.scope = $1 AND i.external_id = r.external_id AND i.roster_position <> r.pos - 1`,
		scope, roster)
	if err != nil {
		return nil, fmt.Errorf("record roster positions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit retain: %w", err)
	}
	return deleted, nil
}

// --- Events ---

func (s *PostgresStore) RecordEvent(ctx context.Context, ev *models.MatchEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attendance_events (id, camera_id, class_id, track_id, external_id, display_name, identity_type, similarity, confidence, snapshot_key, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ev.ID, ev.CameraID, ev.ClassID, ev.TrackID, ev.ExternalID, ev.DisplayName,
		string(ev.IdentityType), ev.Similarity, ev.Confidence, ev.SnapshotKey, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}
