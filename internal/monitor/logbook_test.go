package monitor

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogbookExtend(t *testing.T) {
	t.Parallel()
	lb := NewLogbook(map[string]any{"version": 1})
	base := lb.Size()
	require.Positive(t, base)

	require.NoError(t, lb.Extend("health", []any{map[string]any{"t": 1}}))
	require.NoError(t, lb.Extend("health", []any{map[string]any{"t": 2}}))
	require.NoError(t, lb.Extend("endpoint", map[string]any{"a": 1}))
	require.NoError(t, lb.Extend("endpoint", map[string]any{"b": 2, "a": 3}))

	snap := lb.Snapshot()
	assert.Len(t, snap["health"], 2)
	assert.Equal(t, map[string]any{"a": 3, "b": 2}, snap["endpoint"])
	assert.Greater(t, lb.Size(), base)

	// Empty values still create the key.
	require.NoError(t, lb.Extend("events", []any{}))
	assert.Contains(t, lb.Snapshot(), "events")
}

func TestLogbookKindMismatch(t *testing.T) {
	t.Parallel()
	lb := NewLogbook(nil)
	require.NoError(t, lb.Extend("k", []any{1}))
	assert.ErrorIs(t, lb.Extend("k", map[string]any{"x": 1}), ErrLogKindMismatch)

	require.NoError(t, lb.Extend("m", map[string]any{}))
	assert.ErrorIs(t, lb.Extend("m", []any{1}), ErrLogKindMismatch)

	// Header scalars are neither.
	lb2 := NewLogbook(map[string]any{"version": 1})
	assert.ErrorIs(t, lb2.Extend("version", []any{2}), ErrLogKindMismatch)

	assert.ErrorIs(t, lb.Extend("s", "text"), ErrLogValue)
}

func TestLogbookSnapshotIsDeep(t *testing.T) {
	t.Parallel()
	lb := NewLogbook(nil)
	require.NoError(t, lb.Extend("c", map[string]any{"id": map[string]any{"x": 1}}))
	snap := lb.Snapshot()
	snap["c"].(map[string]any)["id"].(map[string]any)["x"] = 99
	assert.Equal(t, 1, lb.Snapshot()["c"].(map[string]any)["id"].(map[string]any)["x"])
}

func TestLogbookConcurrentExtend(t *testing.T) {
	t.Parallel()
	lb := NewLogbook(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				_ = lb.Extend("rows", []any{fmt.Sprintf("%d-%d", i, n)})
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, lb.Snapshot()["rows"], 400)

	b, err := lb.JSON()
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Len(t, doc["rows"], 400)
}

func TestTargetName(t *testing.T) {
	t.Parallel()
	host := func() (string, error) { return "Duckiebot01.local", nil }
	assert.Equal(t, "duckiebot01", TargetName("unix:///var/run/docker.sock", host))
	assert.Equal(t, "robot", TargetName("Robot.local:2375", host))
	assert.Equal(t, "10.0.0.5", TargetName("10.0.0.5", host))
	assert.Equal(t, "robot", TargetName("tcp://robot:2376", host))
}

func TestLogKey(t *testing.T) {
	t.Parallel()
	start := time.Unix(1700000000, 0)
	assert.Equal(t, "v1__lab__duckiebot__robot__1700000000", LogKey(1, "lab", "Duckiebot", "robot", start))
	assert.Equal(t, "v2____watchtower__robot__1700000000", LogKey(2, "", "watchtower", "robot", start))
}
