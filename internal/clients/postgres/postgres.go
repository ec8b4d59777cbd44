// Package postgres is the relational mirror store: the raw case table
// the sync upserts into, the viewer table the public apps read, and the
// archive table that keeps cases removed upstream.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/citygeo/case-sync/pkg/domain"
)

const (
	ERR_PG_DB_CONNECTION = "error connecting to case database"
	ERR_PG_NO_TABLE      = "error case table not configured"
)

var (
	ErrDBConn  = errors.New(ERR_PG_DB_CONNECTION)
	ErrNoTable = errors.New(ERR_PG_NO_TABLE)
)

// archiveChunkSize bounds the IN list of one archive-and-delete
// transaction.
const archiveChunkSize = 1000

type StoreConfig struct {
	RawTable     string
	ViewerTable  string
	ArchiveTable string
	// ColumnsQuery enumerates a table's column names; one bindvar, the
	// table name. Defaults to the information_schema form.
	ColumnsQuery string
}

func (c StoreConfig) columnsQuery() string {
	if c.ColumnsQuery != "" {
		return c.ColumnsQuery
	}
	return "SELECT column_name FROM information_schema.columns WHERE table_name = ?"
}

type CaseStore struct {
	store *sqlx.DB
	cfg   StoreConfig
	l     *slog.Logger
}

// NewCaseStore wraps an open connection. Tests hand in a sqlite
// connection with a pragma-based ColumnsQuery.
func NewCaseStore(db *sqlx.DB, cfg StoreConfig, l *slog.Logger) (*CaseStore, error) {
	if cfg.RawTable == "" {
		return nil, ErrNoTable
	}
	return &CaseStore{store: db, cfg: cfg, l: l}, nil
}

// ConnectCaseStore opens a pgx connection and wraps it.
func ConnectCaseStore(ctx context.Context, dsn string, cfg StoreConfig, l *slog.Logger) (*CaseStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		if l != nil {
			l.Error("error connecting to case database", slog.Any("error", err))
		}
		return nil, ErrDBConn
	}
	return NewCaseStore(db, cfg, l)
}

func (s *CaseStore) Close(ctx context.Context) error {
	return s.store.Close()
}

// MaxUpdated returns the raw table's newest updated_datetime, and false
// when the table holds no dated rows.
func (s *CaseStore) MaxUpdated(ctx context.Context) (time.Time, bool, error) {
	var max time.Time
	q := "SELECT updated_datetime FROM " + s.cfg.RawTable +
		" WHERE updated_datetime IS NOT NULL ORDER BY updated_datetime DESC LIMIT 1"
	err := s.store.GetContext(ctx, &max, q)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return max, true, nil
}

// UpsertCases writes one batch into the named table in a single
// transaction.
func (s *CaseStore) UpsertCases(ctx context.Context, table string, recs []domain.CaseRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.store.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	q := upsertSQL(table)
	for i := range recs {
		if _, err := tx.NamedExecContext(ctx, q, &recs[i]); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ServiceRequestIDs enumerates every case key in the raw table, newest
// keys first.
func (s *CaseStore) ServiceRequestIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	q := "SELECT " + domain.PrimaryKey + " FROM " + s.cfg.RawTable +
		" ORDER BY " + domain.PrimaryKey + " DESC"
	if err := s.store.SelectContext(ctx, &ids, q); err != nil {
		return nil, err
	}
	return ids, nil
}

// ArchiveAndDelete copies the named cases into the archive table and
// removes them from the raw and viewer tables, one transaction per
// bounded chunk.
func (s *CaseStore) ArchiveAndDelete(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += archiveChunkSize {
		end := min(start+archiveChunkSize, len(ids))
		if err := s.archiveChunk(ctx, ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *CaseStore) archiveChunk(ctx context.Context, ids []string) error {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	in := placeholders(len(ids))

	tx, err := s.store.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	q := s.store.Rebind(archiveSQL(s.cfg.ArchiveTable, s.cfg.RawTable, in))
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		tx.Rollback()
		return err
	}
	for _, table := range []string{s.cfg.RawTable, s.cfg.ViewerTable} {
		if table == "" {
			continue
		}
		q := s.store.Rebind(
			"DELETE FROM " + table + " WHERE " + domain.PrimaryKey + " IN (" + in + ")")
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// CopyNewToViewer inserts raw rows newer than the viewer's watermark
// into the viewer table and reports how many moved.
func (s *CaseStore) CopyNewToViewer(ctx context.Context) (int64, error) {
	res, err := s.store.ExecContext(ctx, copyNewSQL(s.cfg.ViewerTable, s.cfg.RawTable))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Columns lists a table's column names as the database reports them.
func (s *CaseStore) Columns(ctx context.Context, table string) ([]string, error) {
	cols := []string{}
	q := s.store.Rebind(s.cfg.columnsQuery())
	if err := s.store.SelectContext(ctx, &cols, q, table); err != nil {
		return nil, err
	}
	return cols, nil
}

// Count reports the number of rows in the named table.
func (s *CaseStore) Count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.store.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
		return 0, err
	}
	return n, nil
}
