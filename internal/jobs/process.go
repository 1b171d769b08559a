package jobs

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sysmon/internal/docker"
	"sysmon/internal/job"
)

// TopArgs are the ps arguments used inside containers.
var TopArgs = []string{"-o", "ppid,pid,pcpu,thcount,cputime,pmem,size,cmd"}

// psColumns maps ps headers onto log keys.
var psColumns = map[string]string{
	"PPID":  "ppid",
	"PID":   "pid",
	"%CPU":  "pcpu",
	"THCNT": "nthreads",
	"TIME":  "cputime",
	"%MEM":  "pmem",
	"SIZE":  "mem",
	"CMD":   "command",
}

// ContainerTop records the process table of one container.
type ContainerTop struct {
	rt  docker.Runtime
	log Log
	id  string
	now func() time.Time
}

func (t *ContainerTop) Run(ctx context.Context, j *job.Job) error {
	ok, err := checkRunning(ctx, t.rt, t.id, j)
	if !ok {
		return err
	}
	top, err := t.rt.Top(ctx, t.id, TopArgs)
	if err != nil {
		if docker.IsNotFound(err) {
			j.Terminate()
			return nil
		}
		return err
	}
	if len(top.Titles) == 0 || len(top.Processes) == 0 {
		return nil
	}
	at := unixSeconds(t.now())
	rows := make([]any, 0, len(top.Processes))
	for _, proc := range top.Processes {
		row := map[string]any{"container": t.id, "time": at}
		for i, title := range top.Titles {
			if i >= len(proc) {
				break
			}
			key, ok := psColumns[title]
			if !ok {
				continue
			}
			if title == "SIZE" {
				row[key] = sizeMB(proc[i])
				continue
			}
			row[key] = proc[i]
		}
		rows = append(rows, row)
	}
	return t.log.Extend(KeyProcessStats, rows)
}

// sizeMB converts ps's SIZE column (KiB) the way the log has always stored
// it: divided by 1000.
func sizeMB(raw string) float64 {
	kb, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return kb / 1000
}

// HostProcesses records every non-kernel process on the host.
type HostProcesses struct {
	host HostSampler
	log  Log
	now  func() time.Time
}

func NewHostProcesses(host HostSampler, log Log, t Timing) *job.Job {
	return t.build("host_processes", HostProcessesEvery, &HostProcesses{host: host, log: log, now: time.Now})
}

func (h *HostProcesses) Run(ctx context.Context, _ *job.Job) error {
	procs, err := h.host.Processes(ctx)
	if err != nil {
		return err
	}
	at := unixSeconds(h.now())
	rows := make([]any, 0, len(procs))
	for _, p := range procs {
		if p.Kernel {
			continue
		}
		rows = append(rows, map[string]any{
			"container": nil,
			"time":      at,
			"ppid":      strconv.Itoa(int(p.PPID)),
			"pid":       strconv.Itoa(int(p.PID)),
			"pcpu":      strconv.FormatFloat(p.CPUPercent, 'f', 1, 64),
			"nthreads":  strconv.Itoa(int(p.Threads)),
			"cputime":   formatCPUTime(p.CPUTime),
			"pmem":      strconv.FormatFloat(float64(p.MemPercent), 'f', 1, 64),
			"mem":       float64(p.SizeKB) / 1000,
			"command":   p.Command,
		})
	}
	return h.log.Extend(KeyAllProcesses, rows)
}

// formatCPUTime renders d like ps's cputime column: [DD-]HH:MM:SS.
func formatCPUTime(d time.Duration) string {
	secs := int64(d / time.Second)
	days := secs / 86400
	secs %= 86400
	hms := fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
	if days > 0 {
		return fmt.Sprintf("%d-%s", days, hms)
	}
	return hms
}
