// Package monitor runs one monitoring session: it schedules the poll jobs on
// the pool, lets them fill the session log for the configured duration, then
// drains the pool, archives and publishes the log, and shuts down.
package monitor

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/daemon"

	"sysmon/internal/config"
	"sysmon/internal/docker"
	"sysmon/internal/eventbus"
	"sysmon/internal/jobs"
	"sysmon/internal/observability/status"
	"sysmon/internal/pool"
	rtsup "sysmon/internal/runtime/supervisor"
	"sysmon/internal/storage"
	logx "sysmon/pkg/logx"
)

const AppName = "system-monitor"

// Session states as shown on the status line.
const (
	StateInit    = "init"
	StateHealthy = "healthy"
	StateStop    = "stop"
	StateDone    = "done"
)

// Options wires a Monitor. Config, Runtime and Host are required.
type Options struct {
	Config   *config.Config
	Settings config.Resolved

	Logger  logx.Logger
	Logging *logx.Service         // hot-reloaded when Manager publishes
	Manager *config.ConfigManager // optional; watched for changes

	Runtime docker.Runtime
	Host    jobs.HostSampler
	Store   storage.Store // optional; closed by Run

	Out      io.Writer // printer output, default stdout
	Notify   Notifier  // default SystemdNotifier
	Hostname func() (string, error)
	Now      func() time.Time
}

type Monitor struct {
	opts Options
	cfg  *config.Config
	set  config.Resolved
	log  logx.Logger

	pool *pool.Pool
	bus  eventbus.Bus
	book *Logbook

	target string
	start  time.Time
	key    string

	mu    sync.Mutex
	state string
}

func New(opts Options) (*Monitor, error) {
	if opts.Config == nil {
		return nil, errors.New("monitor: config is required")
	}
	if opts.Runtime == nil {
		return nil, errors.New("monitor: container runtime is required")
	}
	if opts.Host == nil {
		opts.Host = jobs.NewHostSampler()
	}
	if strings.TrimSpace(opts.Config.Monitor.Type) == "" {
		return nil, errors.New("monitor: type is required")
	}
	if opts.Logger.IsZero() {
		opts.Logger = logx.Nop()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Notify == nil {
		opts.Notify = SystemdNotifier()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Monitor{
		opts:  opts,
		cfg:   opts.Config,
		set:   opts.Settings,
		log:   opts.Logger.With(logx.String("comp", "monitor")),
		bus:   eventbus.New(),
		state: StateInit,
		start: opts.Now(),
	}
	m.target = TargetName(m.set.Target, opts.Hostname)
	m.key = LogKey(m.set.LogVersion, m.cfg.Monitor.Group, m.cfg.Monitor.Type, m.target, m.start)
	m.book = NewLogbook(map[string]any{
		"time":     m.start.Format(isoSeconds),
		"version":  m.set.LogVersion,
		"group":    m.cfg.Monitor.Group,
		"type":     strings.ToLower(m.cfg.Monitor.Type),
		"target":   m.target,
		"duration": m.cfg.Monitor.Duration,
	})

	failures := newFailureLogger(opts.Logger.With(logx.String("comp", "jobs")), func() *pool.Stats {
		if m.pool == nil {
			return nil
		}
		return m.pool.Collector()
	})
	m.pool = pool.New(pool.Config{
		Workers:    m.set.Workers,
		Heartbeat:  m.set.PoolHeartbeat,
		DrainPause: m.set.DrainPause,
		OnFailure:  failures.handle,
	}, opts.Logger, m.bus)
	return m, nil
}

func (m *Monitor) Key() string          { return m.key }
func (m *Monitor) Target() string       { return m.target }
func (m *Monitor) Log() *Logbook        { return m.book }
func (m *Monitor) Pool() *pool.Pool     { return m.pool }
func (m *Monitor) Events() eventbus.Bus { return m.bus }

// Name, State, Uptime, LogSize and PoolStats make the monitor a
// status.Source.
func (m *Monitor) Name() string             { return AppName }
func (m *Monitor) Uptime() time.Duration    { return m.opts.Now().Sub(m.start) }
func (m *Monitor) LogSize() int64           { return m.book.Size() }
func (m *Monitor) PoolStats() pool.Snapshot { return m.pool.Stats() }

func (m *Monitor) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) setState(s string) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Progress feeds the status line.
func (m *Monitor) Progress() jobs.Progress {
	snap := m.pool.Stats()
	workers := m.pool.Config().Workers
	return jobs.Progress{
		Name:    AppName,
		Uptime:  m.Uptime(),
		State:   m.State(),
		Busy:    snap.WorkersAlive - snap.WorkersIdle,
		Max:     workers,
		Queued:  snap.Queued,
		Failed:  snap.Counter(pool.CounterFailed),
		LogSize: m.book.Size(),
	}
}

// expired reports whether the configured duration has elapsed.
func (m *Monitor) expired() bool {
	d := m.cfg.Monitor.Duration
	return d > 0 && m.Uptime() > time.Duration(d)*time.Second
}

func (m *Monitor) notify(state string) {
	if ok, err := m.opts.Notify(state); err != nil {
		m.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	} else if ok && !strings.HasPrefix(state, "STATUS=") {
		m.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// Run executes the whole session. Cancelling ctx ends data collection early
// and skips publishing.
func (m *Monitor) Run(ctx context.Context) error {
	m.banner()

	sup := rtsup.New(ctx, rtsup.WithLogger(m.log), rtsup.WithCancelOnError(false))
	m.startBackground(sup)
	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = sup.Wait(wctx)
		cancel()
	}()

	// The pool outlives ctx so that draining and aborting stay orderly.
	poolCtx, stopPool := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPool()

	m.enqueueInitial()
	if !m.pool.Run(poolCtx, false) {
		return errors.New("monitor: pool is already running")
	}
	m.setState(StateHealthy)
	m.notify(daemon.SdNotifyReady)
	m.log.Info("started logging", logx.String("key", m.key))

	shutdown := m.spin(ctx)
	if shutdown {
		m.log.Info("shutdown requested; clearing jobs")
	} else {
		m.log.Info("the monitor timed out; clearing jobs")
	}
	m.drain(ctx)

	if !shutdown {
		m.archiveAndPublish(ctx)
	}

	m.setState(StateStop)
	m.notify(daemon.SdNotifyStopping)
	m.log.Info("stopping workers")
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.set.DrainTimeout)
	err := m.pool.Abort(actx, true)
	cancel()
	stopPool()
	if err != nil {
		m.log.Warn("workers did not stop in time", logx.Err(err))
	}
	if m.opts.Store != nil {
		if cerr := m.opts.Store.Close(); cerr != nil {
			m.log.Warn("close storage failed", logx.Err(cerr))
		}
	}
	m.setState(StateDone)
	snap := m.pool.Stats()
	m.log.Info("done",
		logx.Int64("executed", snap.Counter(pool.CounterExecuted)),
		logx.Int64("failed", snap.Counter(pool.CounterFailed)),
		logx.Int64("log_size", m.book.Size()),
		logx.Float64("uptime_s", m.Uptime().Seconds()),
	)
	return nil
}

func (m *Monitor) banner() {
	m.log.Info("system monitor configuration",
		logx.String("target", m.set.Target),
		logx.String("type", m.cfg.Monitor.Type),
		logx.String("target_name", m.target),
		logx.Int("log_version", m.set.LogVersion),
		logx.String("database", m.cfg.Publisher.Database),
		logx.String("group", m.cfg.Monitor.Group),
		logx.Int("duration_s", m.cfg.Monitor.Duration),
		logx.String("key", m.key),
		logx.Int("workers", m.set.Workers),
	)
}

// timing maps a job's toggle and schedule onto jobs.Timing.
func (m *Monitor) timing(name string, def bool) jobs.Timing {
	t := jobs.Timing{Disabled: !m.cfg.Jobs.Toggles()[name].On(def)}
	if s, ok := m.set.Schedules[name]; ok {
		switch s.Kind {
		case config.ScheduleCron:
			t.Cron = s.Cron
		default:
			t.Every = s.Every
		}
	}
	return t
}

func (m *Monitor) enqueueInitial() {
	var initial []pool.Job
	if t := m.timing(config.JobPrinter, true); m.cfg.Monitor.Verbose && !t.Disabled {
		initial = append(initial, jobs.NewPrinter(m.Progress, m.opts.Out, t))
	}
	if t := m.timing(config.JobEndpointInfo, true); !t.Disabled {
		initial = append(initial, jobs.NewEndpointInfo(m.opts.Runtime, m.book, t))
	}
	if t := m.timing(config.JobContainerList, true); !t.Disabled {
		initial = append(initial, jobs.NewContainerList(jobs.ContainerListConfig{
			Runtime: m.opts.Runtime,
			Log:     m.book,
			Pool:    m.pool,
			Logger:  m.opts.Logger.With(logx.String("comp", "containers")),
			Filters: m.set.Filters,
			Stats:   m.timing(config.JobContainerStats, true),
			Top:     m.timing(config.JobContainerTop, true),
			Config:  m.timing(config.JobContainerConfig, true),
		}, t))
	}
	if t := m.timing(config.JobDeviceHealth, true); !t.Disabled {
		url := jobs.HealthURL(m.set.Target, m.set.HealthPort)
		initial = append(initial, jobs.NewDeviceHealth(url, m.set.HealthTimeout, m.book, t))
	}
	if t := m.timing(config.JobResources, true); !t.Disabled {
		initial = append(initial, jobs.NewResources(m.opts.Host, m.book, t))
	}
	if t := m.timing(config.JobHostProcesses, true); !t.Disabled {
		initial = append(initial, jobs.NewHostProcesses(m.opts.Host, m.book, t))
	}
	for _, j := range initial {
		m.pool.Enqueue(j)
	}
	m.log.Debug("initial jobs enqueued", logx.Int("jobs", len(initial)))
}

// spin waits until the duration elapses or ctx is done; it reports whether
// ctx ended it.
func (m *Monitor) spin(ctx context.Context) bool {
	beat := time.NewTicker(m.set.AppHeartbeat)
	defer beat.Stop()
	status := time.NewTicker(time.Second)
	defer status.Stop()
	for {
		if m.expired() {
			return false
		}
		select {
		case <-ctx.Done():
			return true
		case <-status.C:
			m.notify(statusState(jobs.StatusLine(m.Progress())))
		case <-beat.C:
		}
	}
}

// drain stops jobs from requeueing, clears the queue and waits for the
// in-flight ones.
func (m *Monitor) drain(ctx context.Context) {
	m.pool.BlackHole(true)
	n := m.pool.TerminateAll(ctx)
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.set.DrainTimeout)
	if err := m.pool.WaitIdle(wctx); err != nil {
		m.log.Warn("jobs still running after drain timeout", logx.Duration("timeout", m.set.DrainTimeout))
	}
	cancel()
	m.pool.BlackHole(false)
	m.log.Info("jobs cleared", logx.Int("removed", n))
}

func (m *Monitor) archiveAndPublish(ctx context.Context) {
	value, err := m.book.JSON()
	if err != nil {
		m.log.Error("encode log failed", logx.Err(err))
		return
	}
	if st := m.opts.Store; st != nil {
		err := st.SaveLog(ctx, storage.Record{
			Key:       m.key,
			CreatedAt: m.start,
			Group:     m.cfg.Monitor.Group,
			Type:      strings.ToLower(m.cfg.Monitor.Type),
			Target:    m.target,
			Size:      int64(len(value)),
			Value:     value,
		})
		if err != nil {
			m.log.Warn("archive log failed", logx.String("key", m.key), logx.Err(err))
		}
	}

	pub := m.cfg.Publisher
	if m.timing(config.JobPublisher, true).Disabled || strings.TrimSpace(pub.URL) == "" {
		m.log.Info("publishing disabled; log kept locally", logx.String("key", m.key))
		return
	}

	m.log.Info("pushing data to the cloud", logx.String("key", m.key), logx.Int("size", len(value)))
	var (
		resMu sync.Mutex
		res   = jobs.PublishResult{Outcome: jobs.OutcomeGaveUp}
	)
	m.pool.Enqueue(jobs.NewPublisher(jobs.PublisherConfig{
		URL:        pub.URL,
		AppID:      pub.AppID,
		AppSecret:  pub.AppSecret,
		Database:   pub.Database,
		Key:        m.key,
		Value:      value,
		Retries:    m.set.PublishRetries,
		RetryEvery: m.set.RetryEvery,
		Timeout:    m.set.RequestTimeout,
		Logger:     m.opts.Logger.With(logx.String("comp", "publisher")),
		OnResult: func(r jobs.PublishResult) {
			resMu.Lock()
			res = r
			resMu.Unlock()
		},
	}))
	jctx, cancel := context.WithTimeout(ctx, m.set.PublishTimeout)
	err = m.pool.Join(jctx)
	cancel()
	if err != nil {
		m.log.Warn("publishing did not finish in time", logx.Duration("timeout", m.set.PublishTimeout), logx.Err(err))
	}

	resMu.Lock()
	outcome := res.Outcome
	resMu.Unlock()
	if st := m.opts.Store; st != nil {
		if err := st.MarkPublished(context.WithoutCancel(ctx), m.key, outcome); err != nil {
			m.log.Warn("record publish outcome failed", logx.Err(err))
		}
	}
}

// startBackground runs the event logger, the optional status server and the
// config watcher under sup.
func (m *Monitor) startBackground(sup *rtsup.Supervisor) {
	events, unsub := m.bus.Subscribe(64)
	evLog := m.opts.Logger.With(logx.String("comp", "events"))
	sup.Go0("events.log", func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				evLog.Debug(e.Type, logx.String("job", e.Job), logx.Any("data", e.Data))
			}
		}
	})

	if m.cfg.Status.Enabled {
		svc := status.New(status.Config{
			Addr:          m.set.StatusAddr,
			Token:         m.cfg.Status.Token,
			AllowInsecure: m.cfg.Status.AllowInsecure,
		}, m, m.opts.Logger)
		sup.GoRestart("status.serve", svc.Serve,
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
			rtsup.WithMaxRestarts(5),
		)
	}

	mgr := m.opts.Manager
	if mgr == nil || strings.TrimSpace(mgr.Path()) == "" {
		return
	}
	mgr.SetLogger(m.opts.Logger.With(logx.String("comp", "config")))
	updates := mgr.Subscribe(1)
	sup.Go("config.watch", mgr.Watch)
	sup.Go0("config.apply", func(ctx context.Context) {
		defer mgr.Unsubscribe(updates)
		prev := m.cfg
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				m.applyConfig(prev, next)
				prev = next
			}
		}
	})
}

// applyConfig hot-applies the live sections and warns about the rest.
func (m *Monitor) applyConfig(prev, next *config.Config) {
	changed, attrs := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		return
	}
	var restart []string
	for _, s := range changed {
		if !config.LiveSections[s] {
			restart = append(restart, s)
		}
	}
	if m.opts.Logging != nil && prev.Logging != next.Logging {
		m.opts.Logging.Apply(next.Logging.LogxConfig())
	}
	attrs = append(attrs, logx.String("changed", strings.Join(changed, ",")))
	m.log.Info("config reloaded", attrs...)
	if len(restart) > 0 {
		m.log.Warn("config sections change on next run", logx.String("sections", strings.Join(restart, ",")))
	}
}
