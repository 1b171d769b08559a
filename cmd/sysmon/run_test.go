package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sysmon/internal/config"
)

func newTestRunCmd(o *runFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "run"}
	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "")
	f.StringVar(&o.typ, "type", "", "")
	f.StringVarP(&o.target, "target", "T", config.DefaultTarget, "")
	f.StringArrayVarP(&o.filters, "filter", "F", nil, "")
	f.IntVarP(&o.duration, "duration", "d", -1, "")
	f.StringVar(&o.group, "group", "", "")
	f.StringVar(&o.appID, "app-id", "", "")
	f.StringVar(&o.appSecret, "app-secret", "", "")
	f.StringVar(&o.database, "database", "", "")
	f.StringVar(&o.apiURL, "api-url", "", "")
	f.BoolVar(&o.debug, "debug", false, "")
	f.BoolVarP(&o.verbose, "verbose", "V", false, "")
	return cmd
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sysmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
monitor:
  type: watchtower
  group: lab
  duration: 30
docker:
  target: robot.local
publisher:
  url: https://example.invalid/api
`), 0o644))

	var o runFlags
	cmd := newTestRunCmd(&o)
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--type", "duckiebot", "-F", "^dt-", "-F", "^ros-", "--debug"}))

	_, cfg, err := loadConfig(cmd, o)
	require.NoError(t, err)
	assert.Equal(t, "duckiebot", cfg.Monitor.Type)
	assert.Equal(t, "lab", cfg.Monitor.Group)
	assert.Equal(t, 30, cfg.Monitor.Duration)
	assert.Equal(t, "robot.local", cfg.Docker.Target)
	assert.Equal(t, []string{"^dt-", "^ros-"}, cfg.Docker.Filters)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "https://example.invalid/api", cfg.Publisher.URL)
}

func TestDefaultsWithoutConfigFile(t *testing.T) {
	var o runFlags
	cmd := newTestRunCmd(&o)
	require.NoError(t, cmd.ParseFlags([]string{"--type", "duckiebot"}))
	_, cfg, err := loadConfig(cmd, o)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultTarget, cfg.Docker.Target)
	assert.Equal(t, -1, cfg.Monitor.Duration)
}

func TestTypeIsRequired(t *testing.T) {
	var o runFlags
	cmd := newTestRunCmd(&o)
	require.NoError(t, cmd.ParseFlags(nil))
	_, _, err := loadConfig(cmd, o)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--type")
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, buf.String(), "system-monitor version dev")
}
