package reportstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/model"
)

type ClickHouseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

type ClickHouseSink struct {
	conn driver.Conn
}

func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig, logger *slog.Logger) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Logger: logger,
		Settings: clickhouse.Settings{
			"max_execution_time": 15,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseSink{conn: conn}, nil
}

var clickHouseSchema = []string{
	`CREATE TABLE IF NOT EXISTS verification_runs (
		run_id String,
		bucket String,
		prefix String,
		started_at DateTime64(3),
		finished_at DateTime64(3),
		tables_verified Int64,
		tables_passed Int64,
		tables_failed Int64,
		total_original_files Int64,
		total_combined_files Int64,
		overall_passed Bool
	) ENGINE = MergeTree ORDER BY (started_at, run_id)`,
	`CREATE TABLE IF NOT EXISTS verification_tables (
		run_id String,
		table_name String,
		passed Bool,
		issues Array(String),
		original_files Int64,
		combined_files Int64,
		original_rows Int64,
		combined_rows Int64,
		original_size_mb Float64,
		combined_size_mb Float64,
		duration_ms Int64
	) ENGINE = MergeTree ORDER BY (run_id, table_name)`,
}

func (c *ClickHouseSink) EnsureSchema(ctx context.Context) error {
	for _, ddl := range clickHouseSchema {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create report tables: %w", err)
		}
	}
	return nil
}

func (c *ClickHouseSink) Save(ctx context.Context, r model.RunReport) error {
	err := c.conn.Exec(ctx,
		`INSERT INTO verification_runs
		(run_id, bucket, prefix, started_at, finished_at, tables_verified, tables_passed, tables_failed,
		 total_original_files, total_combined_files, overall_passed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID.String(), r.Bucket, r.Prefix, r.StartedAt, r.FinishedAt,
		int64(r.TablesVerified), int64(r.TablesPassed), int64(r.TablesFailed),
		int64(r.TotalOriginalFiles), int64(r.TotalCombinedFiles), r.OverallPassed,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(r.Tables) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO verification_tables")
	if err != nil {
		return fmt.Errorf("prepare table batch: %w", err)
	}
	for _, t := range r.Tables {
		issues := t.Issues
		if issues == nil {
			issues = []string{}
		}
		err := batch.Append(
			r.RunID.String(), t.Table, t.Passed, issues,
			int64(t.OriginalFiles), int64(t.CombinedFiles), t.OriginalRows, t.CombinedRows,
			t.OriginalSizeMB, t.CombinedSizeMB, t.Duration.Milliseconds(),
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append table %q: %w", t.Table, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send table batch: %w", err)
	}
	return nil
}

func (c *ClickHouseSink) Close() error {
	return c.conn.Close()
}
