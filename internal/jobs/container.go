package jobs

import (
	"context"
	"io"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"sysmon/internal/docker"
	"sysmon/internal/job"
	logx "sysmon/pkg/logx"
)

// ContainerListConfig wires a ContainerList runner.
type ContainerListConfig struct {
	Runtime docker.Runtime
	Log     Log
	Pool    Enqueuer
	Logger  logx.Logger

	// Filters select containers by name; a container is watched when any
	// filter matches. No filters means every container.
	Filters []*regexp.Regexp

	Stats  Timing
	Top    Timing
	Config Timing
}

// ContainerList tracks the running containers, records add/remove events and
// owns the per-container jobs.
type ContainerList struct {
	cfg ContainerListConfig
	now func() time.Time

	mu   sync.Mutex
	seen map[string][]*job.Job
}

func NewContainerList(cfg ContainerListConfig, t Timing) *job.Job {
	return t.build("container_list", ContainerListEvery, newContainerList(cfg))
}

func newContainerList(cfg ContainerListConfig) *ContainerList {
	return &ContainerList{cfg: cfg, now: time.Now, seen: map[string][]*job.Job{}}
}

func (c *ContainerList) matches(name string) bool {
	if len(c.cfg.Filters) == 0 {
		return true
	}
	for _, re := range c.cfg.Filters {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (c *ContainerList) Run(ctx context.Context, _ *job.Job) error {
	list, err := c.cfg.Runtime.Containers(ctx)
	if err != nil {
		return err
	}
	now := unixSeconds(c.now())
	names := map[string]any{}
	events := []any{}

	current := make(map[string]docker.Container, len(list))
	for _, ct := range list {
		if c.matches(ct.Name) {
			current[ct.ID] = ct
		}
	}

	c.mu.Lock()
	removed := make([]string, 0)
	for id := range c.seen {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	for _, id := range removed {
		events = append(events, map[string]any{"time": now, "type": "container/remove", "id": id})
		for _, j := range c.seen[id] {
			j.Terminate()
		}
		delete(c.seen, id)
	}

	added := make([]docker.Container, 0)
	for id, ct := range current {
		if _, ok := c.seen[id]; !ok {
			added = append(added, ct)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })
	spawned := make([]*job.Job, 0, 3*len(added))
	for _, ct := range added {
		events = append(events, map[string]any{"time": now, "type": "container/add", "id": ct.ID})
		names[ct.ID] = ct.Name
		children := c.spawn(ct)
		c.seen[ct.ID] = children
		spawned = append(spawned, children...)
	}
	c.mu.Unlock()

	for _, j := range spawned {
		c.cfg.Pool.Enqueue(j)
	}
	if len(added)+len(removed) > 0 {
		c.cfg.Logger.Debug("containers changed",
			logx.Int("added", len(added)), logx.Int("removed", len(removed)), logx.Int("watched", len(current)))
	}

	if err := c.cfg.Log.Extend(KeyContainers, names); err != nil {
		return err
	}
	return c.cfg.Log.Extend(KeyEvents, events)
}

func (c *ContainerList) spawn(ct docker.Container) []*job.Job {
	var out []*job.Job
	if !c.cfg.Stats.Disabled {
		out = append(out, c.cfg.Stats.build("container_stats:"+ct.Name, ContainerStatsEvery,
			&ContainerStats{rt: c.cfg.Runtime, log: c.cfg.Log, id: ct.ID, now: time.Now}))
	}
	if !c.cfg.Top.Disabled {
		out = append(out, c.cfg.Top.build("container_top:"+ct.Name, ContainerTopEvery,
			&ContainerTop{rt: c.cfg.Runtime, log: c.cfg.Log, id: ct.ID, now: time.Now}))
	}
	if !c.cfg.Config.Disabled {
		out = append(out, c.cfg.Config.build("container_config:"+ct.Name, ContainerConfigEvery,
			&ContainerConfig{rt: c.cfg.Runtime, log: c.cfg.Log, id: ct.ID}))
	}
	return out
}

// Watched returns the IDs of the containers currently tracked.
func (c *ContainerList) Watched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.seen))
	for id := range c.seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// checkRunning terminates j when the container is gone or stopped. It
// reports whether the caller should go on sampling.
func checkRunning(ctx context.Context, rt docker.Runtime, id string, j *job.Job) (bool, error) {
	ct, err := rt.Container(ctx, id)
	if err != nil {
		if docker.IsNotFound(err) {
			j.Terminate()
			return false, nil
		}
		return false, err
	}
	if !ct.Running() {
		j.Terminate()
		return false, nil
	}
	return true, nil
}

// ContainerStats samples the stats stream of one container.
type ContainerStats struct {
	rt  docker.Runtime
	log Log
	id  string
	now func() time.Time

	mu     sync.Mutex
	stream docker.StatsStream
	closed bool

	prevCPU    float64
	prevSystem float64
}

func (s *ContainerStats) openStream(ctx context.Context) (docker.StatsStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.EOF
	}
	if s.stream != nil {
		return s.stream, nil
	}
	st, err := s.rt.Stats(ctx, s.id)
	if err != nil {
		return nil, err
	}
	s.stream = st
	return st, nil
}

func (s *ContainerStats) Run(ctx context.Context, j *job.Job) error {
	ok, err := checkRunning(ctx, s.rt, s.id, j)
	if !ok {
		return err
	}
	st, err := s.openStream(ctx)
	if err != nil {
		if docker.IsNotFound(err) || errors.Is(err, io.EOF) {
			j.Terminate()
			return nil
		}
		return err
	}
	sample, err := st.Next()
	if err != nil {
		if errors.Is(err, io.EOF) || j.Terminated() {
			j.Terminate()
			return nil
		}
		s.dropStream()
		return err
	}

	r, w := sample.BlkioStats.IOBytes()
	mem := sample.MemoryStats.UsedBytes()
	data := map[string]any{
		"container": s.id,
		"time":      unixSeconds(s.now()),
		"pcpu":      s.cpuPercent(sample.CPUStats),
		"io_r":      float64(r),
		"io_w":      float64(w),
		"mem":       float64(mem),
		"pmem":      memPercent(mem, sample.MemoryStats.Limit),
	}
	return s.log.Extend(KeyContainerStats, []any{data})
}

// cpuPercent is the share of host CPU used since the previous sample,
// scaled by the number of CPUs.
func (s *ContainerStats) cpuPercent(c docker.CPUStats) float64 {
	total := float64(c.CPUUsage.TotalUsage)
	system := float64(c.SystemUsage)
	cpuDelta := total - s.prevCPU
	systemDelta := system - s.prevSystem
	s.prevCPU, s.prevSystem = total, system
	if systemDelta <= 0 {
		return 0
	}
	return cpuDelta / systemDelta * c.CPUs() * 100
}

func memPercent(used, limit uint64) float64 {
	if limit == 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}

func (s *ContainerStats) dropStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
}

// Close releases the stream; later runs terminate immediately.
func (s *ContainerStats) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.stream == nil {
		return nil
	}
	err := s.stream.Close()
	s.stream = nil
	return err
}

// ContainerConfig records a container's inspect document once.
type ContainerConfig struct {
	rt  docker.Runtime
	log Log
	id  string
}

func (c *ContainerConfig) Run(ctx context.Context, j *job.Job) error {
	cfg, err := c.rt.Inspect(ctx, c.id)
	if err != nil {
		if docker.IsNotFound(err) {
			j.Terminate()
			return nil
		}
		return err
	}
	if err := c.log.Extend(KeyContainerConfig, map[string]any{c.id: cfg}); err != nil {
		return err
	}
	j.Terminate()
	return nil
}
