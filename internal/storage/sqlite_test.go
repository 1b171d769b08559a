//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "sysmon/pkg/logx"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "archive.sqlite"), BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.SaveLog(ctx, Record{Key: "a", CreatedAt: base, Type: "t", Target: "x", Size: 10, Value: []byte(`{"k":1}`)}))
	require.NoError(t, st.SaveLog(ctx, Record{Key: "b", CreatedAt: base.Add(time.Second), Type: "t", Target: "x"}))
	require.NoError(t, st.MarkPublished(ctx, "a", StatusRejected))

	logs, err := st.Logs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "b", logs[0].Key)
	assert.Equal(t, StatusRejected, logs[1].Status)
	assert.EqualValues(t, 10, logs[1].Size)
	assert.JSONEq(t, `{"k":1}`, string(logs[1].Value))
}
