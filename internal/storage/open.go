package storage

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	logx "sysmon/pkg/logx"
)

// Store is the archive API used by the monitor.
type Store interface {
	SaveLog(ctx context.Context, r Record) error
	MarkPublished(ctx context.Context, key, status string) error
	// Logs returns up to limit records, newest first. limit <= 0 means all.
	Logs(ctx context.Context, limit int) ([]Record, error)
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
		return nil, errors.Newf("unknown storage driver: %s", driver)
	}
}

func checkRecord(r *Record) error {
	r.Key = strings.TrimSpace(r.Key)
	if r.Key == "" {
		return ErrNoKey
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if len(r.Value) == 0 {
		r.Value = []byte("{}")
	}
	return nil
}
