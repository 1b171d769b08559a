// Package jobs holds the poll tasks the monitor schedules on the pool.
//
// Every variant is a job.Runner that samples one source (the container
// runtime, the host, the device health API) and appends what it read to the
// shared log. Constructors return ready-to-enqueue *job.Job values.
package jobs

import (
	"time"

	"github.com/robfig/cron/v3"

	"sysmon/internal/job"
	"sysmon/internal/pool"
)

// Default periods.
const (
	ContainerListEvery   = 5 * time.Second
	ContainerStatsEvery  = 1 * time.Second
	ContainerTopEvery    = 5 * time.Second
	ContainerConfigEvery = 1 * time.Second
	EndpointInfoEvery    = 1 * time.Second
	DeviceHealthEvery    = 1 * time.Second
	ResourcesEvery       = 1 * time.Second
	HostProcessesEvery   = 5 * time.Second
	PrinterEvery         = 1 * time.Second
)

// Log keys.
const (
	KeyContainers      = "containers"
	KeyEvents          = "events"
	KeyContainerStats  = "container/stats"
	KeyContainerConfig = "container/config"
	KeyProcessStats    = "process_stats"
	KeyEndpoint        = "endpoint"
	KeyHealth          = "health"
	KeyResources       = "resources_stats"
	KeyAllProcesses    = "all_process_stats"
)

// Log is the shared document runners append to. value is either a []any
// (appended) or a map[string]any (merged).
type Log interface {
	Extend(key string, value any) error
}

// Enqueuer is the part of the pool that spawns follow-up jobs.
type Enqueuer interface {
	Enqueue(j pool.Job)
}

// Timing overrides how a variant is scheduled. The zero value keeps the
// variant's default period.
type Timing struct {
	Disabled bool
	Every    time.Duration
	Cron     cron.Schedule
}

func (t Timing) build(name string, def time.Duration, r job.Runner, opts ...job.Option) *job.Job {
	period := def
	if t.Every > 0 {
		period = t.Every
	}
	if t.Cron != nil {
		opts = append(opts, job.WithSchedule(t.Cron))
	}
	return job.New(name, period, r, opts...)
}

// unixSeconds is the timestamp format samples carry.
func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
