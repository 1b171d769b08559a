package jobs

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"sysmon/internal/job"
)

// Progress is what the status line shows.
type Progress struct {
	Name    string
	Uptime  time.Duration
	State   string
	Busy    int
	Max     int
	Queued  int
	Failed  int64
	LogSize int64
}

// Printer writes a one-line status to out. It is a ghost job, so it never
// keeps the pool from being idle.
type Printer struct {
	progress func() Progress
	out      io.Writer
}

func NewPrinter(progress func() Progress, out io.Writer, t Timing) *job.Job {
	return t.build("printer", PrinterEvery, &Printer{progress: progress, out: out}, job.WithGhost())
}

func (p *Printer) Run(context.Context, *job.Job) error {
	_, err := fmt.Fprintln(p.out, StatusLine(p.progress()))
	return err
}

// StatusLine formats pr as
// "[name HHh:MMm:SSs] [state] [busy/max jobs] [N queued] [N failed] [log: size]".
func StatusLine(pr Progress) string {
	secs := int64(pr.Uptime / time.Second)
	size := pr.LogSize
	if size < 0 {
		size = 0
	}
	return fmt.Sprintf("[%s %02dh:%02dm:%02ds] [%s] [%d/%d jobs] [%d queued] [%d failed] [log: %s]",
		pr.Name, secs/3600, (secs/60)%60, secs%60,
		pr.State, pr.Busy, pr.Max, pr.Queued, pr.Failed,
		humanize.Bytes(uint64(size)))
}
