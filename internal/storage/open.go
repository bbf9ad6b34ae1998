package storage

import (
	"context"
	"errors"
	"strings"

	logx "tickrun/pkg/logx"
)

// Store is the persistence API used by the report recorder and the CLI.
type Store interface {
	AppendTaskResult(ctx context.Context, r TaskResult) error
	AppendRunSummary(ctx context.Context, s RunSummary) error
	// RecentRuns returns up to limit summaries, most recent first.
	RecentRuns(ctx context.Context, limit int) ([]RunSummary, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
