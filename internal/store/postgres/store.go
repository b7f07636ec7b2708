// Package postgres provides the Postgres-backed Store implementation.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/busanfuneral/notice-pipeline/internal/notice"
)

// Expected schema:
//
//	CREATE TABLE raw_notices (
//		id UUID PRIMARY KEY,
//		district TEXT NOT NULL,
//		url TEXT NOT NULL,
//		raw_text TEXT NOT NULL,
//		fingerprint TEXT NOT NULL,
//		captured_at TIMESTAMPTZ NOT NULL,
//		UNIQUE (district, fingerprint)
//	);
//	CREATE TABLE analyzed_notices (
//		id UUID PRIMARY KEY,
//		raw_id UUID NOT NULL UNIQUE REFERENCES raw_notices(id),
//		district TEXT NOT NULL,
//		url TEXT NOT NULL,
//		fields JSONB NOT NULL,
//		status TEXT NOT NULL,
//		analyzed_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE sent_notices (
//		id UUID PRIMARY KEY,
//		analyzed_id UUID NOT NULL UNIQUE REFERENCES analyzed_notices(id),
//		channel_ids JSONB NOT NULL,
//		sent_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE execution_logs (
//		id BIGSERIAL PRIMARY KEY,
//		level TEXT NOT NULL,
//		message TEXT NOT NULL,
//		stage TEXT,
//		district TEXT,
//		error_trace TEXT,
//		logged_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE TABLE execution_metrics (
//		id BIGSERIAL PRIMARY KEY,
//		started_at TIMESTAMPTZ NOT NULL,
//		ended_at TIMESTAMPTZ NOT NULL,
//		payload JSONB NOT NULL
//	);

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements notice.Store on Postgres.
type Store struct {
	pool db
	sb   sq.StatementBuilderType
}

// New creates a Store from config, verifying connectivity via the pool.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool), nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool db) *Store {
	return &Store{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveRaw inserts one raw record. The unique (district, fingerprint) index
// is the hard backstop for the dedup invariant.
func (s *Store) SaveRaw(ctx context.Context, rec notice.RawRecord) error {
	query, args, err := s.sb.Insert("raw_notices").
		Columns("id", "district", "url", "raw_text", "fingerprint", "captured_at").
		Values(rec.ID, rec.District, rec.URL, rec.RawText, rec.Fingerprint, rec.CapturedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build raw insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert raw record: %w", err)
	}
	return nil
}

// RawFingerprints returns all stored fingerprints for one district.
func (s *Store) RawFingerprints(ctx context.Context, district notice.DistrictCode) (map[string]bool, error) {
	query, args, err := s.sb.Select("fingerprint").
		From("raw_notices").
		Where(sq.Eq{"district": district}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build fingerprint query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		out[fp] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprints: %w", err)
	}
	return out, nil
}

// UnanalyzedRaw selects raw records lacking a structured counterpart.
func (s *Store) UnanalyzedRaw(ctx context.Context) ([]notice.RawRecord, error) {
	query, args, err := s.sb.Select("r.id", "r.district", "r.url", "r.raw_text", "r.fingerprint", "r.captured_at").
		From("raw_notices r").
		LeftJoin("analyzed_notices a ON a.raw_id = r.id").
		Where("a.id IS NULL").
		OrderBy("r.captured_at", "r.id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unanalyzed query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unanalyzed: %w", err)
	}
	defer rows.Close()

	var out []notice.RawRecord
	for rows.Next() {
		var rec notice.RawRecord
		if err := rows.Scan(&rec.ID, &rec.District, &rec.URL, &rec.RawText, &rec.Fingerprint, &rec.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan raw record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unanalyzed: %w", err)
	}
	return out, nil
}

// SaveAnalyzed inserts the structured counterpart of one raw record. The
// unique raw_id constraint enforces the 1:1 edge.
func (s *Store) SaveAnalyzed(ctx context.Context, rec notice.AnalyzedRecord) error {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	query, args, err := s.sb.Insert("analyzed_notices").
		Columns("id", "raw_id", "district", "url", "fields", "status", "analyzed_at").
		Values(rec.ID, rec.RawID, rec.District, rec.URL, fieldsJSON, rec.Status, rec.AnalyzedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build analyzed insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert analyzed record: %w", err)
	}
	return nil
}

// UnsentAnalyzed selects analyzed records with no sent marker.
func (s *Store) UnsentAnalyzed(ctx context.Context, includeNeedsReview bool) ([]notice.AnalyzedRecord, error) {
	builder := s.sb.Select("a.id", "a.raw_id", "a.district", "a.url", "a.fields", "a.status", "a.analyzed_at").
		From("analyzed_notices a").
		LeftJoin("sent_notices sn ON sn.analyzed_id = a.id").
		Where("sn.id IS NULL")
	if !includeNeedsReview {
		builder = builder.Where(sq.NotEq{"a.status": notice.AnalysisNeedsReview})
	}
	query, args, err := builder.OrderBy("a.analyzed_at", "a.id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unsent query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query unsent: %w", err)
	}
	defer rows.Close()

	var out []notice.AnalyzedRecord
	for rows.Next() {
		var rec notice.AnalyzedRecord
		var fieldsJSON []byte
		if err := rows.Scan(&rec.ID, &rec.RawID, &rec.District, &rec.URL, &fieldsJSON, &rec.Status, &rec.AnalyzedAt); err != nil {
			return nil, fmt.Errorf("scan analyzed record: %w", err)
		}
		if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields for %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unsent: %w", err)
	}
	return out, nil
}

// SaveSent inserts one sent marker. The unique analyzed_id constraint
// enforces the 1:1 edge.
func (s *Store) SaveSent(ctx context.Context, rec notice.SentRecord) error {
	channelsJSON, err := json.Marshal(rec.ChannelIDs)
	if err != nil {
		return fmt.Errorf("marshal channel ids: %w", err)
	}
	query, args, err := s.sb.Insert("sent_notices").
		Columns("id", "analyzed_id", "channel_ids", "sent_at").
		Values(rec.ID, rec.AnalyzedID, channelsJSON, rec.SentAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build sent insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert sent record: %w", err)
	}
	return nil
}

// SaveLog appends one execution log line.
func (s *Store) SaveLog(ctx context.Context, entry notice.ExecutionLog) error {
	query, args, err := s.sb.Insert("execution_logs").
		Columns("level", "message", "stage", "district", "error_trace", "logged_at").
		Values(entry.Level, entry.Message, entry.Stage, entry.District, entry.ErrorTrace, entry.LoggedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build log insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// SaveMetric appends one execution metric row; district detail goes into
// the JSONB payload.
func (s *Store) SaveMetric(ctx context.Context, metric notice.ExecutionMetric) error {
	payload, err := json.Marshal(metric)
	if err != nil {
		return fmt.Errorf("marshal metric: %w", err)
	}
	query, args, err := s.sb.Insert("execution_metrics").
		Columns("started_at", "ended_at", "payload").
		Values(metric.StartedAt, metric.EndedAt, payload).
		ToSql()
	if err != nil {
		return fmt.Errorf("build metric insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

// CleanupOrphanSent deletes sent markers whose analyzed record is gone.
func (s *Store) CleanupOrphanSent(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM sent_notices
WHERE analyzed_id NOT IN (SELECT id FROM analyzed_notices)`)
	if err != nil {
		return 0, fmt.Errorf("cleanup orphan sent: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CleanupDuplicateSent deletes redundant sent markers, keeping the earliest
// per analyzed record. Duplicates can only predate the unique index.
func (s *Store) CleanupDuplicateSent(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
DELETE FROM sent_notices s
USING sent_notices keep
WHERE s.analyzed_id = keep.analyzed_id
  AND (s.sent_at > keep.sent_at OR (s.sent_at = keep.sent_at AND s.id > keep.id))`)
	if err != nil {
		return 0, fmt.Errorf("cleanup duplicate sent: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
