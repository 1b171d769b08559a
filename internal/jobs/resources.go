package jobs

import (
	"context"
	"time"

	"sysmon/internal/job"
)

// Resources samples host memory and CPU.
type Resources struct {
	host HostSampler
	log  Log
	now  func() time.Time
}

func NewResources(host HostSampler, log Log, t Timing) *job.Job {
	return t.build("resources", ResourcesEvery, &Resources{host: host, log: log, now: time.Now})
}

func (r *Resources) Run(ctx context.Context, _ *job.Job) error {
	m, err := r.host.Memory(ctx)
	if err != nil {
		return err
	}
	pcpu, err := r.host.CPUPercent(ctx)
	if err != nil {
		return err
	}
	data := map[string]any{
		"time": unixSeconds(r.now()),
		"memory": map[string]any{
			"pmem":  m.Percent,
			"total": m.Total,
			"used":  m.Used,
			"free":  m.Available,
		},
		"cpu": map[string]any{"pcpu": pcpu},
	}
	return r.log.Extend(KeyResources, []any{data})
}
