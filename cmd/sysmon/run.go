package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"sysmon/internal/config"
	"sysmon/internal/docker"
	"sysmon/internal/jobs"
	"sysmon/internal/monitor"
	"sysmon/internal/storage"
	logx "sysmon/pkg/logx"
)

type runFlags struct {
	configPath string
	typ        string
	target     string
	filters    []string
	duration   int
	group      string
	appID      string
	appSecret  string
	database   string
	apiURL     string
	debug      bool
	verbose    bool
}

var runOpts runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one monitoring session",
	Long: `Run samples the target until the duration elapses (or until interrupted),
then archives and publishes the collected log. An interrupted session is
not published.

Command-line flags override the config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		return runMonitor(ctx, cmd, runOpts)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.configPath, "config", "", "path to a JSON or YAML config file")
	f.StringVar(&runOpts.typ, "type", "", "device type (e.g. duckiebot, watchtower)")
	f.StringVarP(&runOpts.target, "target", "T", config.DefaultTarget, "Docker endpoint to monitor")
	f.StringArrayVarP(&runOpts.filters, "filter", "F", nil, "regex selecting monitored containers by name (repeatable, default .*)")
	f.IntVarP(&runOpts.duration, "duration", "d", -1, "length of the session in seconds (-1: indefinite)")
	f.StringVar(&runOpts.group, "group", "", "log group")
	f.StringVar(&runOpts.appID, "app-id", "", "log API application ID")
	f.StringVar(&runOpts.appSecret, "app-secret", "", "log API application secret")
	f.StringVar(&runOpts.database, "database", "", "log API database")
	f.StringVar(&runOpts.apiURL, "api-url", "", "log API endpoint")
	f.BoolVar(&runOpts.debug, "debug", false, "debug logging")
	f.BoolVarP(&runOpts.verbose, "verbose", "V", false, "print a status line every second")
}

// applyFlags copies every flag the user set onto cfg.
func applyFlags(cmd *cobra.Command, o runFlags, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("type") {
		cfg.Monitor.Type = o.typ
	}
	if changed("target") || cfg.Docker.Target == "" {
		cfg.Docker.Target = o.target
	}
	if changed("filter") {
		cfg.Docker.Filters = o.filters
	}
	if changed("duration") || cfg.Monitor.Duration == 0 {
		cfg.Monitor.Duration = o.duration
	}
	if changed("group") {
		cfg.Monitor.Group = o.group
	}
	if changed("app-id") {
		cfg.Publisher.AppID = o.appID
	}
	if changed("app-secret") {
		cfg.Publisher.AppSecret = o.appSecret
	}
	if changed("database") {
		cfg.Publisher.Database = o.database
	}
	if changed("api-url") {
		cfg.Publisher.URL = o.apiURL
	}
	if o.debug {
		cfg.Logging.Level = "debug"
	}
	if o.verbose {
		cfg.Monitor.Verbose = true
	}
}

func loadConfig(cmd *cobra.Command, o runFlags) (*config.ConfigManager, *config.Config, error) {
	mgr := config.NewConfigManager(o.configPath)
	cfg, err := mgr.LoadOrDefault()
	if err != nil {
		return nil, nil, err
	}
	applyFlags(cmd, o, cfg)
	if strings.TrimSpace(cfg.Monitor.Type) == "" {
		return nil, nil, errors.New("--type is required")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, err
	}
	mgr.Commit(cfg)
	mgr.SetValidator(func(_ context.Context, c *config.Config) error { return config.Validate(c) })
	return mgr, cfg, nil
}

func openStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	if cfg.Storage == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, BusyTimeout: busy}, log)
}

func runMonitor(ctx context.Context, cmd *cobra.Command, o runFlags) error {
	mgr, cfg, err := loadConfig(cmd, o)
	if err != nil {
		return err
	}
	set, err := config.Resolve(cfg)
	if err != nil {
		return err
	}

	logCfg := cfg.Logging.LogxConfig()
	if logCfg.Level == "" {
		logCfg.Level = "info"
	}
	logSvc, log := logx.New(logCfg)
	defer logSvc.Close()

	host := docker.BaseURL(set.Target, config.DefaultDockerTCPPort)
	rt, err := docker.New(host, cfg.Docker.APIVersion)
	if err != nil {
		return err
	}
	defer rt.Close()

	store, err := openStore(cfg, log)
	if err != nil {
		return errors.Wrap(err, "open storage")
	}

	if _, statErr := os.Stat(mgr.Path()); statErr != nil {
		// Nothing to watch.
		mgr = nil
	}
	m, err := monitor.New(monitor.Options{
		Config:   cfg,
		Settings: set,
		Logger:   log,
		Logging:  logSvc,
		Manager:  mgr,
		Runtime:  rt,
		Host:     jobs.NewHostSampler(),
		Store:    store,
		Out:      cmd.OutOrStdout(),
	})
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return err
	}
	log.Info("connecting to container runtime", logx.String("host", host))
	return m.Run(ctx)
}
