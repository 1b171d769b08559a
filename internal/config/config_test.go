package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestParseJSONAndYAMLAgree(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	js := writeFile(t, dir, "c.json", `{
		"logging": {"level": "debug", "console": true},
		"pool": {"workers": 4, "heartbeat": "20ms"},
		"monitor": {"type": "duckiebot", "duration": 30},
		"docker": {"target": "robot.local", "filters": ["^dt-"]},
		"jobs": {"resources": {"enabled": false}, "container_list": {"every": "10s"}}
	}`)
	ym := writeFile(t, dir, "c.yaml", `
logging:
  level: debug
  console: true
pool:
  workers: 4
  heartbeat: 20ms
monitor:
  type: duckiebot
  duration: 30
docker:
  target: robot.local
  filters: ["^dt-"]
jobs:
  resources:
    enabled: false
  container_list:
    every: 10s
`)
	a, err := NewConfigManager(js).Parse()
	require.NoError(t, err)
	b, err := NewConfigManager(ym).Parse()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.False(t, a.Jobs.Resources.On(true))
	assert.True(t, a.Jobs.HostProcesses.On(true))
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := NewConfigManager(writeFile(t, dir, "u.json", `{"pool": {"threads": 3}}`)).Parse()
	require.Error(t, err)

	_, err = NewConfigManager(writeFile(t, dir, "t.json", `{} {}`)).Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing data")

	_, err = NewConfigManager(writeFile(t, dir, "u.yml", "bogus: 1\n")).Parse()
	require.Error(t, err)
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := m.LoadOrDefault()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Same(t, cfg, m.Get())

	r, err := Resolve(cfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, r.Workers)
	assert.Equal(t, DefaultTarget, r.Target)
	assert.Equal(t, DefaultPoolHeartbeat, r.PoolHeartbeat)
	require.Len(t, r.Filters, 1)
	assert.True(t, r.Filters[0].MatchString("anything"))
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"bad duration", Config{Pool: PoolConfig{Heartbeat: "fast"}}, "pool.heartbeat"},
		{"negative duration", Config{Monitor: MonitorConfig{DrainTimeout: "-1s"}}, "monitor.drain_timeout"},
		{"bad regex", Config{Docker: DockerConfig{Filters: []string{"("}}}, "docker.filters[0]"},
		{"bad schedule", Config{Jobs: JobsConfig{Resources: JobToggle{Every: "sometimes"}}}, "jobs.resources.every"},
		{"bad port", Config{Health: HealthConfig{Port: 70000}}, "health.port"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Resolve(&tc.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	require.NoError(t, Validate(&Config{}))
	assert.Error(t, Validate(nil))
	assert.Error(t, Validate(&Config{Logging: LoggingConfig{Level: "chatty"}}))
	assert.Error(t, Validate(&Config{Storage: &StorageConfig{Driver: "redis"}}))
	assert.Error(t, Validate(&Config{Storage: &StorageConfig{Driver: "sqlite", BusyTimeout: "soon"}}))
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in     string
		kind   ScheduleKind
		every  time.Duration
		source string
	}{
		{"5s", ScheduleInterval, 5 * time.Second, "duration"},
		{"00:02", ScheduleInterval, 2 * time.Minute, "hhmm"},
		{"every:1m30s", ScheduleInterval, 90 * time.Second, "duration"},
		{"interval:01:00", ScheduleInterval, time.Hour, "hhmm"},
		{"*/5 * * * *", ScheduleCron, 0, "cron"},
		{"@hourly", ScheduleCron, 0, "cron"},
		{"cron:0 3 * * *", ScheduleCron, 0, "cron"},
	}
	for _, tc := range cases {
		s, err := ParseSchedule(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.kind, s.Kind, tc.in)
		assert.Equal(t, tc.every, s.Every, tc.in)
		assert.Equal(t, tc.source, s.Source, tc.in)
		if tc.kind == ScheduleCron {
			assert.NotNil(t, s.Cron, tc.in)
		}
	}

	for _, bad := range []string{"", "0s", "00:00", "12:75", "cron:", "cron:not a cron", "soon"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	ch := m.Subscribe(1)
	first, second := &Config{}, &Config{Pool: PoolConfig{Workers: 2}}
	m.publish(first)
	m.publish(second)
	assert.Same(t, second, <-ch)

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
	m.Unsubscribe(ch)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{Publisher: PublisherConfig{AppSecret: "s1"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Publisher: PublisherConfig{AppSecret: "s2"}}
	changed, attrs := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"logging", "publisher"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeConfigChange(b, b)
	assert.Empty(t, changed)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sysmon.json", `{"logging": {"level": "info"}}`)

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	m.SetValidator(func(_ context.Context, cfg *Config) error { return Validate(cfg) })
	ch := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)

	// Invalid level is rejected and never published.
	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "shout"}}`), 0o644))
	time.Sleep(2 * reloadDebounce)
	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "debug"}}`), 0o644))

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", m.Get().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not published")
	}
}
