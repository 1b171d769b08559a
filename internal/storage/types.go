package storage

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
	ErrNoKey    = errors.New("storage: record key required")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file (build tag "sqlite")
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Publish statuses recorded by MarkPublished.
const (
	StatusPending   = "pending"
	StatusPublished = "published"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// Record is one archived session log.
type Record struct {
	Key       string          `json:"key"`
	CreatedAt time.Time       `json:"created_at"`
	Group     string          `json:"group,omitempty"`
	Type      string          `json:"type"`
	Target    string          `json:"target"`
	Size      int64           `json:"size"`
	Value     json.RawMessage `json:"value"`

	Status      string    `json:"status"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}
