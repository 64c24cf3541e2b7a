// Package reportstore persists verification run reports for trend tracking.
package reportstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kacper-wojtaszczyk/parquet-compactor/internal/model"
)

// Sink kinds.
const (
	KindNone       = ""
	KindClickHouse = "clickhouse"
	KindPostgres   = "postgres"
)

// Sink stores one run report per call.
type Sink interface {
	EnsureSchema(ctx context.Context) error
	Save(ctx context.Context, r model.RunReport) error
	Close() error
}

type Config struct {
	Kind        string
	ClickHouse  ClickHouseConfig
	PostgresDSN string
}

// Open returns the configured sink, or nil when Kind is empty.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Sink, error) {
	switch cfg.Kind {
	case KindNone:
		return nil, nil
	case KindClickHouse:
		sink, err := NewClickHouseSink(ctx, cfg.ClickHouse, logger)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case KindPostgres:
		sink, err := NewPostgresSink(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown report sink %q", cfg.Kind)
	}
}
