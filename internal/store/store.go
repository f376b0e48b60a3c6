// Package store is the optional PostgreSQL sink for ad records.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/adarchive/api/schemas"
	"github.com/xkilldash9x/adarchive/internal/config"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// columnTypes maps every record column to its PostgreSQL type.
var columnTypes = map[string]string{
	"start_date":       "timestamptz",
	"end_date":         "timestamptz",
	"creation_time":    "timestamptz",
	"is_active":        "boolean",
	"is_promoted_news": "boolean",
	"page_like_count":  "bigint",
}

// Store writes ad records into a single table keyed by run id.
type Store struct {
	pool  DBPool
	table pgx.Identifier
	log   *zap.Logger
}

// New wraps an existing pool. It does not touch the database; call Ready for that.
func New(pool DBPool, table string, logger *zap.Logger) *Store {
	return &Store{
		pool:  pool,
		table: pgx.Identifier{table},
		log:   logger.Named("store"),
	}
}

// Open connects to cfg.URL, verifies the connection and makes sure the
// record table exists. The returned close func releases the pool.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s := New(pool, cfg.Table, logger)
	if err := s.Ready(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// Ready pings the database.
func (s *Store) Ready(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// EnsureSchema creates the record table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createTableSQL(s.table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table.Sanitize(), err)
	}
	return nil
}

// Columns returns the copy columns: run_id followed by the record columns.
func Columns() []string {
	return append([]string{"run_id"}, schemas.AdRecordColumns...)
}

// PersistRecords copies recs into the table in one transaction. An empty
// slice is a no-op.
func (s *Store) PersistRecords(ctx context.Context, runID string, recs []schemas.AdRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	rows := make([][]any, len(recs))
	for i, rec := range recs {
		rows[i] = row(runID, rec)
	}

	copyCount, err := tx.CopyFrom(ctx, s.table, Columns(), pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy records: %w", err)
	}
	if int(copyCount) != len(recs) {
		return fmt.Errorf("mismatch in copied records count: expected %d, got %d", len(recs), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Persisted records", zap.String("run_id", runID), zap.Int("count", len(recs)))
	return nil
}

func row(runID string, r schemas.AdRecord) []any {
	utc := func(p *time.Time) any {
		if p == nil {
			return nil
		}
		return p.UTC()
	}
	return []any{
		runID,
		r.ArchiveID, r.Screenshot, r.PerformanceLog, r.Impressions, r.Spend,
		utc(r.StartDate), utc(r.EndDate), utc(r.CreationTime),
		r.IsActive, r.IsPromotedNews,
		r.PageID, r.PageName, r.HTML, r.Byline, r.Caption, r.Title,
		r.LinkDescription, r.DisplayFormat, r.RelatedAccountName,
		r.PageLikeCount,
	}
}

func createTableSQL(table pgx.Identifier) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n    run_id text NOT NULL", table.Sanitize())
	for _, col := range schemas.AdRecordColumns {
		typ, ok := columnTypes[col]
		if !ok {
			typ = "text"
		}
		fmt.Fprintf(&b, ",\n    %s %s", col, typ)
	}
	b.WriteString("\n)")
	return b.String()
}
