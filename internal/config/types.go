package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Omitted fields take the defaults listed on each section; command-line
// flags override whatever the file says.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Pool      PoolConfig      `json:"pool"`
	Monitor   MonitorConfig   `json:"monitor"`
	Docker    DockerConfig    `json:"docker"`
	Jobs      JobsConfig      `json:"jobs"`
	Health    HealthConfig    `json:"health"`
	Publisher PublisherConfig `json:"publisher"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Status    StatusConfig    `json:"status,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PoolConfig sizes the worker pool.
//
// Defaults: workers 10, heartbeat "50ms", drain_pause "100ms".
type PoolConfig struct {
	Workers    int    `json:"workers,omitempty"`
	Heartbeat  string `json:"heartbeat,omitempty"`
	DrainPause string `json:"drain_pause,omitempty"`
}

// MonitorConfig describes one monitoring session.
//
// Duration is in seconds; -1 (or any value <= 0) means "until interrupted".
type MonitorConfig struct {
	Type     string `json:"type"`
	Group    string `json:"group,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Verbose  bool   `json:"verbose,omitempty"`

	// Heartbeat is how often the app loop checks for completion. Default "500ms".
	Heartbeat string `json:"heartbeat,omitempty"`
	// PublishTimeout bounds the final publish/join step. Default "2m".
	PublishTimeout string `json:"publish_timeout,omitempty"`
	// DrainTimeout bounds the wait for in-flight jobs after draining. Default "30s".
	DrainTimeout string `json:"drain_timeout,omitempty"`

	LogVersion int `json:"log_version,omitempty"`
}

// DockerConfig points at the container runtime to monitor.
//
// Target is either a unix socket URL ("unix:///var/run/docker.sock") or a
// host with an optional port ("robot.local:2375").
type DockerConfig struct {
	Target     string   `json:"target,omitempty"`
	Filters    []string `json:"filters,omitempty"`
	APIVersion string   `json:"api_version,omitempty"`
}

// JobToggle switches one poll job on or off and optionally overrides its
// schedule ("5s", "00:01", "every:10s", "cron:*/5 * * * *", "@hourly").
//
// Enabled is a pointer so an omitted value keeps the job's default.
type JobToggle struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Every   string `json:"every,omitempty"`
}

// On reports whether the job is enabled, falling back to def.
func (t JobToggle) On(def bool) bool {
	if t.Enabled == nil {
		return def
	}
	return *t.Enabled
}

type JobsConfig struct {
	Printer         JobToggle `json:"printer,omitempty"`
	EndpointInfo    JobToggle `json:"endpoint_info,omitempty"`
	ContainerList   JobToggle `json:"container_list,omitempty"`
	ContainerStats  JobToggle `json:"container_stats,omitempty"`
	ContainerTop    JobToggle `json:"container_top,omitempty"`
	ContainerConfig JobToggle `json:"container_config,omitempty"`
	DeviceHealth    JobToggle `json:"device_health,omitempty"`
	Resources       JobToggle `json:"resources,omitempty"`
	HostProcesses   JobToggle `json:"host_processes,omitempty"`
	Publisher       JobToggle `json:"publisher,omitempty"`
}

// HealthConfig locates the device health API. Defaults: port 8085, timeout "5s".
type HealthConfig struct {
	Port    int    `json:"port,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// PublisherConfig controls the final upload of the collected log.
//
// Defaults: retries 3, retry_every "5s", timeout "10s".
// The secret is never logged.
type PublisherConfig struct {
	URL        string `json:"url,omitempty"`
	AppID      string `json:"app_id,omitempty"`
	AppSecret  string `json:"app_secret,omitempty"`
	Database   string `json:"database,omitempty"`
	Retries    int    `json:"retries,omitempty"`
	RetryEvery string `json:"retry_every,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// StorageConfig controls the local archive of collected logs.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./sysmon_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// StatusConfig controls the optional HTTP status server.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:6061").
//   - A non-loopback address needs a token or an explicit allow_insecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
