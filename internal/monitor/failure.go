package monitor

import (
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"sysmon/internal/pool"
	logx "sysmon/pkg/logx"
)

// failureLogger counts every failure and logs them through a token bucket
// so a job failing on every heartbeat cannot flood the sink.
type failureLogger struct {
	log        logx.Logger
	stats      func() *pool.Stats
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

func newFailureLogger(log logx.Logger, stats func() *pool.Stats) *failureLogger {
	return &failureLogger{
		log:     log,
		stats:   stats,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

func (f *failureLogger) handle(fl pool.Failure) {
	if s := f.stats(); s != nil {
		s.Increment(pool.CounterFailed)
	}
	if !f.limiter.Allow() {
		f.suppressed.Add(1)
		return
	}
	f.log.Error("job failed",
		logx.String("kind", fl.Kind.String()),
		logx.String("job", fl.JobName()),
		logx.Int("worker", fl.Worker),
		logx.Int64("suppressed", f.suppressed.Swap(0)),
		logx.Err(fl.Err),
	)
	f.log.Debug("job failure stack", logx.String("job", fl.JobName()), logx.Stack(fl.Stack))
}
