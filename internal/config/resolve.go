package config

import (
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	logx "sysmon/pkg/logx"
)

const (
	DefaultTarget         = "unix:///var/run/docker.sock"
	DefaultFilter         = ".*"
	DefaultDockerTCPPort  = "2375"
	DefaultHealthPort     = 8085
	DefaultLogVersion     = 1
	DefaultWorkers        = 10
	DefaultPoolHeartbeat  = 50 * time.Millisecond
	DefaultDrainPause     = 100 * time.Millisecond
	DefaultAppHeartbeat   = 500 * time.Millisecond
	DefaultPublishTimeout = 2 * time.Minute
	DefaultDrainTimeout   = 30 * time.Second
	DefaultHealthTimeout  = 5 * time.Second
	DefaultPublishRetries = 3
	DefaultRetryEvery     = 5 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultStatusAddr     = "127.0.0.1:6061"
)

// Job keys as they appear under "jobs".
const (
	JobPrinter         = "printer"
	JobEndpointInfo    = "endpoint_info"
	JobContainerList   = "container_list"
	JobContainerStats  = "container_stats"
	JobContainerTop    = "container_top"
	JobContainerConfig = "container_config"
	JobDeviceHealth    = "device_health"
	JobResources       = "resources"
	JobHostProcesses   = "host_processes"
	JobPublisher       = "publisher"
)

// Toggles returns every job toggle keyed by its config name.
func (j JobsConfig) Toggles() map[string]JobToggle {
	return map[string]JobToggle{
		JobPrinter:         j.Printer,
		JobEndpointInfo:    j.EndpointInfo,
		JobContainerList:   j.ContainerList,
		JobContainerStats:  j.ContainerStats,
		JobContainerTop:    j.ContainerTop,
		JobContainerConfig: j.ContainerConfig,
		JobDeviceHealth:    j.DeviceHealth,
		JobResources:       j.Resources,
		JobHostProcesses:   j.HostProcesses,
		JobPublisher:       j.Publisher,
	}
}

// Resolved holds the typed, defaulted view of a Config.
type Resolved struct {
	Workers        int
	PoolHeartbeat  time.Duration
	DrainPause     time.Duration
	AppHeartbeat   time.Duration
	PublishTimeout time.Duration
	DrainTimeout   time.Duration
	HealthTimeout  time.Duration
	HealthPort     int
	LogVersion     int

	Target  string
	Filters []*regexp.Regexp

	PublishRetries int
	RetryEvery     time.Duration
	RequestTimeout time.Duration

	StatusAddr string

	// Schedules holds only the jobs whose "every" was set.
	Schedules map[string]Schedule
}

// Resolve parses every duration, schedule and filter and applies defaults.
func Resolve(cfg *Config) (Resolved, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	var (
		r   Resolved
		err error
	)

	r.Workers = cfg.Pool.Workers
	if r.Workers <= 0 {
		r.Workers = DefaultWorkers
	}
	durations := []struct {
		dst  *time.Duration
		path string
		raw  string
		def  time.Duration
	}{
		{&r.PoolHeartbeat, "pool.heartbeat", cfg.Pool.Heartbeat, DefaultPoolHeartbeat},
		{&r.DrainPause, "pool.drain_pause", cfg.Pool.DrainPause, DefaultDrainPause},
		{&r.AppHeartbeat, "monitor.heartbeat", cfg.Monitor.Heartbeat, DefaultAppHeartbeat},
		{&r.PublishTimeout, "monitor.publish_timeout", cfg.Monitor.PublishTimeout, DefaultPublishTimeout},
		{&r.DrainTimeout, "monitor.drain_timeout", cfg.Monitor.DrainTimeout, DefaultDrainTimeout},
		{&r.HealthTimeout, "health.timeout", cfg.Health.Timeout, DefaultHealthTimeout},
		{&r.RetryEvery, "publisher.retry_every", cfg.Publisher.RetryEvery, DefaultRetryEvery},
		{&r.RequestTimeout, "publisher.timeout", cfg.Publisher.Timeout, DefaultRequestTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = ParseDurationOrDefault(d.path, d.raw, d.def); err != nil {
			return Resolved{}, err
		}
	}

	r.HealthPort = cfg.Health.Port
	if r.HealthPort <= 0 {
		r.HealthPort = DefaultHealthPort
	}
	if r.HealthPort > 65535 {
		return Resolved{}, errors.Newf("health.port: %d out of range", r.HealthPort)
	}
	r.LogVersion = cfg.Monitor.LogVersion
	if r.LogVersion <= 0 {
		r.LogVersion = DefaultLogVersion
	}
	r.PublishRetries = cfg.Publisher.Retries
	if r.PublishRetries <= 0 {
		r.PublishRetries = DefaultPublishRetries
	}

	r.Target = strings.TrimSpace(cfg.Docker.Target)
	if r.Target == "" {
		r.Target = DefaultTarget
	}
	filters := cfg.Docker.Filters
	if len(filters) == 0 {
		filters = []string{DefaultFilter}
	}
	for i, f := range filters {
		re, err := regexp.Compile(f)
		if err != nil {
			return Resolved{}, errors.Wrapf(err, "docker.filters[%d]", i)
		}
		r.Filters = append(r.Filters, re)
	}

	r.StatusAddr = strings.TrimSpace(cfg.Status.Addr)
	if r.StatusAddr == "" {
		r.StatusAddr = DefaultStatusAddr
	}

	r.Schedules = map[string]Schedule{}
	for name, t := range cfg.Jobs.Toggles() {
		if strings.TrimSpace(t.Every) == "" {
			continue
		}
		s, err := ParseSchedule(t.Every)
		if err != nil {
			return Resolved{}, errors.Wrapf(err, "jobs.%s.every", name)
		}
		r.Schedules[name] = s
	}
	return r, nil
}

// Validate checks everything Resolve checks plus the fields that are only
// consumed as raw strings.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return errors.Newf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return errors.Newf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}
	_, err := Resolve(cfg)
	return err
}

// LogxConfig maps the logging section onto the logger service config.
func (c LoggingConfig) LogxConfig() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}
