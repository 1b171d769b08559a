package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// MemorySample is a reading of host memory.
type MemorySample struct {
	Percent   float64
	Total     uint64
	Used      uint64
	Available uint64
}

// ProcessSample is one row of the host process table.
type ProcessSample struct {
	PPID       int32
	PID        int32
	CPUPercent float64
	Threads    int32
	CPUTime    time.Duration
	MemPercent float32
	SizeKB     uint64
	Command    string
	Kernel     bool
}

// HostSampler reads metrics of the machine sysmon runs on.
type HostSampler interface {
	Memory(ctx context.Context) (MemorySample, error)
	CPUPercent(ctx context.Context) (float64, error)
	Processes(ctx context.Context) ([]ProcessSample, error)
}

type psutilSampler struct{}

// NewHostSampler returns a sampler backed by gopsutil.
func NewHostSampler() HostSampler { return psutilSampler{} }

func (psutilSampler) Memory(ctx context.Context) (MemorySample, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return MemorySample{}, errors.Wrap(err, "virtual memory")
	}
	return MemorySample{Percent: v.UsedPercent, Total: v.Total, Used: v.Used, Available: v.Available}, nil
}

// CPUPercent is the utilisation since the previous call (zero interval).
func (psutilSampler) CPUPercent(ctx context.Context) (float64, error) {
	p, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, errors.Wrap(err, "cpu percent")
	}
	if len(p) == 0 {
		return 0, nil
	}
	return p[0], nil
}

// kthreadd is the parent of every kernel thread on Linux.
const kthreadd = 2

func (psutilSampler) Processes(ctx context.Context) ([]ProcessSample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list processes")
	}
	out := make([]ProcessSample, 0, len(procs))
	for _, p := range procs {
		s, ok := sampleProcess(ctx, p)
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// sampleProcess skips processes that exit while being read.
func sampleProcess(ctx context.Context, p *process.Process) (ProcessSample, bool) {
	ppid, err := p.PpidWithContext(ctx)
	if err != nil {
		return ProcessSample{}, false
	}
	s := ProcessSample{PID: p.Pid, PPID: ppid}
	args, _ := p.CmdlineSliceWithContext(ctx)
	s.Command = strings.Join(args, " ")
	s.Kernel = p.Pid == kthreadd || ppid == kthreadd || len(args) == 0
	if s.Kernel {
		return s, true
	}
	s.CPUPercent, _ = p.CPUPercentWithContext(ctx)
	s.Threads, _ = p.NumThreadsWithContext(ctx)
	if t, err := p.TimesWithContext(ctx); err == nil {
		s.CPUTime = time.Duration((t.User + t.System) * float64(time.Second))
	}
	s.MemPercent, _ = p.MemoryPercentWithContext(ctx)
	if m, err := p.MemoryInfoWithContext(ctx); err == nil {
		s.SizeKB = m.Data / 1024
	}
	return s, true
}
