//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	logx "sysmon/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return errors.Wrap(err, "migrate")
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) SaveLog(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if err := checkRecord(&r); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logs(key, created_at, grp, type, target, size, value, status)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, size=excluded.size`,
		r.Key, r.CreatedAt.UTC().Format(time.RFC3339Nano), nullStr(r.Group), r.Type, r.Target,
		r.Size, string(r.Value), r.Status,
	)
	if err != nil {
		return errors.Wrap(err, "insert log")
	}
	s.log.Debug("log archived", logx.String("key", r.Key), logx.Int64("size", r.Size))
	return nil
}

func (s *sqliteStore) MarkPublished(ctx context.Context, key, status string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(key) == "" {
		return ErrNoKey
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE logs SET status = ?, published_at = ? WHERE key = ?`,
		status, time.Now().UTC().Format(time.RFC3339Nano), key,
	)
	return errors.Wrap(err, "update publish status")
}

func (s *sqliteStore) Logs(ctx context.Context, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	q := `SELECT key, created_at, COALESCE(grp, ''), type, target, size, value, status, COALESCE(published_at, '')
	      FROM logs ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query logs")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                  Record
			created, published string
			value              string
		)
		if err := rows.Scan(&r.Key, &created, &r.Group, &r.Type, &r.Target, &r.Size, &value, &r.Status, &published); err != nil {
			return nil, errors.Wrap(err, "scan log")
		}
		r.Value = []byte(value)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if published != "" {
			r.PublishedAt, _ = time.Parse(time.RFC3339Nano, published)
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate logs")
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
