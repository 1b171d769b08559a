package monitor

import (
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	// ErrLogKindMismatch is returned when a key holding a list is extended
	// with a map, or the other way around.
	ErrLogKindMismatch = errors.New("log kind mismatch")
	// ErrLogValue is returned for values that are neither lists nor maps.
	ErrLogValue = errors.New("log value must be a list or a map")
)

// Logbook is the document a monitoring session accumulates. Poll jobs
// extend it concurrently.
type Logbook struct {
	mu   sync.Mutex
	doc  map[string]any
	size int64
}

// NewLogbook starts a document with the given header fields.
func NewLogbook(header map[string]any) *Logbook {
	doc := make(map[string]any, len(header)+8)
	for k, v := range header {
		doc[k] = v
	}
	b, _ := json.Marshal(doc)
	return &Logbook{doc: doc, size: int64(len(b))}
}

// Extend appends a list or merges a map into key, creating it on first use.
func (l *Logbook) Extend(key string, value any) error {
	var n int
	switch v := value.(type) {
	case []any, map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return errors.Wrapf(err, "log %q", key)
		}
		n = len(b)
	default:
		return errors.Wrapf(ErrLogValue, "log %q: got %T", key, value)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.doc[key]
	switch v := value.(type) {
	case []any:
		if !ok {
			cur = []any{}
		}
		list, isList := cur.([]any)
		if !isList {
			return errors.Wrapf(ErrLogKindMismatch, "log %q holds %T, got a list", key, cur)
		}
		l.doc[key] = append(list, v...)
	case map[string]any:
		if !ok {
			cur = map[string]any{}
		}
		m, isMap := cur.(map[string]any)
		if !isMap {
			return errors.Wrapf(ErrLogKindMismatch, "log %q holds %T, got a map", key, cur)
		}
		for k, x := range v {
			m[k] = x
		}
		l.doc[key] = m
	}
	l.size += int64(n)
	return nil
}

// Size approximates the encoded document size in bytes.
func (l *Logbook) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Snapshot returns a deep copy of the document.
func (l *Logbook) Snapshot() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return deepCopy(l.doc).(map[string]any)
}

// JSON encodes the document.
func (l *Logbook) JSON() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, err := json.Marshal(l.doc)
	return b, errors.Wrap(err, "encode log")
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = deepCopy(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = deepCopy(x)
		}
		return out
	default:
		return v
	}
}
