package config

import (
	"reflect"
	"strings"

	logx "sysmon/pkg/logx"
)

// SummarizeConfigChange returns the names of the sections that changed and
// safe structured attrs for logging. Secrets (publisher secret, status
// token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Pool != newCfg.Pool {
		changed = append(changed, "pool")
		attrs = append(attrs, logx.Int("pool.workers", newCfg.Pool.Workers))
	}
	if oldCfg.Monitor != newCfg.Monitor {
		changed = append(changed, "monitor")
		attrs = append(attrs, logx.Int("monitor.duration", newCfg.Monitor.Duration))
	}
	if !reflect.DeepEqual(oldCfg.Docker, newCfg.Docker) {
		changed = append(changed, "docker")
		attrs = append(attrs,
			logx.String("docker.target", newCfg.Docker.Target),
			logx.Int("docker.filters", len(newCfg.Docker.Filters)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		changed = append(changed, "jobs")
	}
	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
	}
	if oldCfg.Publisher != newCfg.Publisher {
		changed = append(changed, "publisher")
		attrs = append(attrs,
			logx.String("publisher.url", strings.TrimSpace(newCfg.Publisher.URL)),
			logx.Bool("publisher.secret_set", newCfg.Publisher.AppSecret != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
	}
	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", newCfg.Status.Addr),
			logx.Bool("status.token_set", newCfg.Status.Token != ""),
		)
	}
	return changed, attrs
}

// LiveSections lists the sections applied without a restart.
var LiveSections = map[string]bool{"logging": true}
