package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	logx "sysmon/pkg/logx"
)

// fileStore is a dependency-free archive backend.
//
// Files:
//   - <prefix>.logs.jsonl      (append-only, one Record per line)
//   - <prefix>.published.jsonl (append-only journal of publish outcomes)
//
// Logs replays the journal over the records, so the last outcome wins.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	logsPath    string
	journalPath string
	logsFile    *os.File
	journalFile *os.File
}

type publishRecord struct {
	Key    string    `json:"key"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create storage dir")
	}

	s := &fileStore{
		log:         log,
		logsPath:    prefix + ".logs.jsonl",
		journalPath: prefix + ".published.jsonl",
	}
	var err error
	if s.logsFile, err = os.OpenFile(s.logsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		return nil, errors.Wrap(err, "open logs file")
	}
	if s.journalFile, err = os.OpenFile(s.journalPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600); err != nil {
		_ = s.logsFile.Close()
		return nil, errors.Wrap(err, "open publish journal")
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.logsFile != nil {
		err1 = s.logsFile.Close()
		s.logsFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	return errors.CombineErrors(err1, err2)
}

func (s *fileStore) SaveLog(ctx context.Context, r Record) error {
	_ = ctx
	if err := checkRecord(&r); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logsFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.logsFile).Encode(r); err != nil {
		return errors.Wrap(err, "append log record")
	}
	s.log.Debug("log archived", logx.String("key", r.Key), logx.Int64("size", r.Size))
	return nil
}

func (s *fileStore) MarkPublished(ctx context.Context, key, status string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrNoKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrClosed
	}
	rec := publishRecord{Key: key, Status: status, At: time.Now()}
	if err := json.NewEncoder(s.journalFile).Encode(rec); err != nil {
		return errors.Wrap(err, "append publish record")
	}
	return nil
}

func (s *fileStore) Logs(ctx context.Context, limit int) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logsFile == nil {
		return nil, ErrClosed
	}

	byKey := map[string]*Record{}
	order := []string{}
	err := scanJSONL(s.logsPath, func(b []byte) {
		var r Record
		if json.Unmarshal(b, &r) != nil || r.Key == "" {
			return
		}
		if _, seen := byKey[r.Key]; !seen {
			order = append(order, r.Key)
		}
		byKey[r.Key] = &r
	})
	if err != nil {
		return nil, err
	}
	err = scanJSONL(s.journalPath, func(b []byte) {
		var p publishRecord
		if json.Unmarshal(b, &p) != nil {
			return
		}
		if r := byKey[p.Key]; r != nil {
			r.Status = p.Status
			r.PublishedAt = p.At
		}
	})
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func scanJSONL(path string, fn func([]byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	// Session logs can be large.
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		fn(sc.Bytes())
	}
	return sc.Err()
}
