package reportstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/model"
)

type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresSinkFromDB(db), nil
}

// NewPostgresSinkFromDB wraps an open handle. The sink owns db after this call.
func NewPostgresSinkFromDB(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS verification_runs (
		run_id UUID PRIMARY KEY,
		bucket TEXT NOT NULL,
		prefix TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		tables_verified INTEGER NOT NULL,
		tables_passed INTEGER NOT NULL,
		tables_failed INTEGER NOT NULL,
		total_original_files INTEGER NOT NULL,
		total_combined_files INTEGER NOT NULL,
		overall_passed BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS verification_tables (
		run_id UUID NOT NULL REFERENCES verification_runs (run_id),
		table_name TEXT NOT NULL,
		passed BOOLEAN NOT NULL,
		issues TEXT[] NOT NULL,
		original_files INTEGER NOT NULL,
		combined_files INTEGER NOT NULL,
		original_rows BIGINT NOT NULL,
		combined_rows BIGINT NOT NULL,
		original_size_mb DOUBLE PRECISION NOT NULL,
		combined_size_mb DOUBLE PRECISION NOT NULL,
		duration_ms BIGINT NOT NULL,
		PRIMARY KEY (run_id, table_name)
	)`,
}

func (p *PostgresSink) EnsureSchema(ctx context.Context) error {
	for _, ddl := range postgresSchema {
		if _, err := p.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create report tables: %w", err)
		}
	}
	return nil
}

// Save writes the run and its tables in one transaction.
func (p *PostgresSink) Save(ctx context.Context, r model.RunReport) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO verification_runs
		(run_id, bucket, prefix, started_at, finished_at, tables_verified, tables_passed, tables_failed,
		 total_original_files, total_combined_files, overall_passed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.RunID.String(), r.Bucket, r.Prefix, r.StartedAt, r.FinishedAt,
		r.TablesVerified, r.TablesPassed, r.TablesFailed,
		r.TotalOriginalFiles, r.TotalCombinedFiles, r.OverallPassed,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO verification_tables
		(run_id, table_name, passed, issues, original_files, combined_files, original_rows, combined_rows,
		 original_size_mb, combined_size_mb, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return fmt.Errorf("prepare table insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range r.Tables {
		issues := t.Issues
		if issues == nil {
			issues = []string{}
		}
		_, err = stmt.ExecContext(ctx,
			r.RunID.String(), t.Table, t.Passed, pq.Array(issues),
			t.OriginalFiles, t.CombinedFiles, t.OriginalRows, t.CombinedRows,
			t.OriginalSizeMB, t.CombinedSizeMB, t.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert table %q: %w", t.Table, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (p *PostgresSink) Close() error {
	return p.db.Close()
}
