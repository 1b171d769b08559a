package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysmon/internal/pool"
	logx "sysmon/pkg/logx"
)

type fakeSource struct{}

func (fakeSource) Name() string          { return "robot" }
func (fakeSource) State() string         { return "running" }
func (fakeSource) Uptime() time.Duration { return 90*time.Second + 300*time.Millisecond }
func (fakeSource) LogSize() int64        { return 1500 }
func (fakeSource) PoolStats() pool.Snapshot {
	return pool.Snapshot{Counters: map[string]int64{pool.CounterExecuted: 7}, WorkersAlive: 2}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(New(Config{}, fakeSource{}, logx.Nop()).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rep Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.Equal(t, "robot", rep.Name)
	assert.Equal(t, "1m30s", rep.Uptime)
	assert.Equal(t, "1.5 kB", rep.LogSizeHuman)
	assert.EqualValues(t, 7, rep.Pool.Counter(pool.CounterExecuted))
	assert.Equal(t, 2, rep.Pool.WorkersAlive)
}

func TestTokenRequired(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(New(Config{Token: "s3cret"}, fakeSource{}, logx.Nop()).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/stats?token=s3cret")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServeRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "0.0.0.0:0"}, fakeSource{}, logx.Nop())
	assert.ErrorIs(t, s.Serve(context.Background()), ErrInsecureBind)
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "127.0.0.1:0"}, fakeSource{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:6061"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:1"))
	assert.False(t, isLoopbackAddr(":6061"))
	assert.False(t, isLoopbackAddr("10.0.0.1:6061"))
}
