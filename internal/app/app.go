// Package app wires configuration, storage, the connection boundary and
// the services into one process and owns their lifecycles.
package app

import (
	"context"
	"fmt"
	"time"

	"whatspro/internal/api"
	"whatspro/internal/campaign"
	"whatspro/internal/config"
	"whatspro/internal/eventbus"
	"whatspro/internal/history"
	"whatspro/internal/runtime/supervisor"
	"whatspro/internal/session"
	"whatspro/internal/store"
	"whatspro/internal/wa"
	"whatspro/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	bus       eventbus.Bus
	store     store.Store
	sup       *supervisor.Supervisor
	sessions  *session.Controller
	syncer    *history.Synchronizer
	campaigns *campaign.Manager
	scheduler *campaign.Scheduler
	server    *api.Server
}

// New parses the config file and brings up logging. Everything else
// starts in Start, where a lifecycle context is available.
func New(cfgPath string) (*App, error) {
	cfgMgr := config.NewManager(cfgPath)
	cfg, err := cfgMgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(logxConfig(cfg.Logging))
	cfgMgr.SetLogger(log.With(logx.String("svc", "config")))

	return &App{cfgMgr: cfgMgr, logSvc: logSvc, log: log}, nil
}

// Start builds and launches every service. The passed context bounds the
// whole process lifetime; cancelling it begins shutdown, Stop finishes it.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgMgr.Get()

	a.bus = eventbus.New()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("svc", "supervisor"))))

	st, err := store.Open(storeConfig(cfg), a.log.With(logx.String("svc", "store")))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = st

	dialer, err := wa.NewDialer(ctx, wa.MeowConfig{StorePath: cfg.WhatsApp.StorePath}, a.log.With(logx.String("svc", "wa")))
	if err != nil {
		return fmt.Errorf("open device store: %w", err)
	}

	a.syncer = history.New(st, a.bus, a.log.With(logx.String("svc", "history")))
	a.syncer.SetBounds(cfg.Sync.MaxChats, cfg.Sync.MaxMessagesPerChat)

	a.sessions = session.NewController(session.NewRegistry(), st, a.bus, dialer, a.syncer,
		a.sup, a.log.With(logx.String("svc", "session")))

	a.campaigns = campaign.NewManager(st, a.bus, a.sessions, a.sup,
		a.log.With(logx.String("svc", "campaign")), campaignDefaults(cfg, a.log))
	a.scheduler = campaign.NewScheduler(a.campaigns, a.log.With(logx.String("svc", "scheduler")))

	a.server = api.NewServer(cfg.Server.Addr, a.sessions, a.campaigns, st, a.bus,
		a.log.With(logx.String("svc", "api")))

	if err := a.sessions.Restore(ctx); err != nil {
		a.log.Error("restore sessions", logx.Err(err))
	}

	if err := a.scheduler.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	a.sup.Go("http-server", func(context.Context) error {
		return a.server.Start()
	})
	a.sup.Go("config-watch", a.cfgMgr.Watch)
	a.startReloads()

	a.log.Info("platform started", logx.String("addr", cfg.Server.Addr))
	return nil
}

// startReloads applies committed config changes to the running services.
// Logging, dispatcher defaults and sync bounds take effect live; storage
// and listen address need a restart.
func (a *App) startReloads() {
	updates := a.cfgMgr.Subscribe(4)
	a.sup.Go("config-reload", func(ctx context.Context) error {
		defer a.cfgMgr.Unsubscribe(updates)
		for {
			select {
			case <-ctx.Done():
				return nil
			case cfg, ok := <-updates:
				if !ok {
					return nil
				}
				a.logSvc.Apply(logxConfig(cfg.Logging))
				a.campaigns.Apply(campaignDefaults(cfg, a.log))
				a.syncer.SetBounds(cfg.Sync.MaxChats, cfg.Sync.MaxMessagesPerChat)
				a.log.Info("config reloaded")
			}
		}
	})
}

// Stop shuts the process down: stop taking HTTP traffic, stop the cron,
// cancel workers (running campaigns park as paused), then close handles
// and storage.
func (a *App) Stop(ctx context.Context) {
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown", logx.Err(err))
		}
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.sup != nil {
		a.sup.Cancel()
		waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.sup.Stop(waitCtx); err != nil {
			a.log.Warn("worker shutdown", logx.Err(err))
		}
		cancel()
	}
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("platform stopped")
	_ = a.logSvc.Close()
}

func logxConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func storeConfig(cfg *config.Config) store.Config {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		busy = 5 * time.Second
	}
	return store.Config{Path: cfg.Storage.Path, BusyTimeout: busy}
}

// campaignDefaults converts config duration strings into dispatcher
// defaults. Malformed values fall back to the documented defaults rather
// than taking the process down on a hot reload.
func campaignDefaults(cfg *config.Config, log logx.Logger) campaign.Defaults {
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := config.ParseDurationOrDefault(path, raw, def)
		if err != nil {
			log.Warn("invalid duration in config, using default",
				logx.String("field", path), logx.Err(err))
			return def
		}
		return d
	}
	c := cfg.Campaign
	return campaign.Defaults{
		Pacing: store.Pacing{
			MessageDelay: dur("campaign.message_delay", c.MessageDelay, 3*time.Second),
			BatchSize:    c.BatchSize,
			BatchDelay:   dur("campaign.batch_delay", c.BatchDelay, 30*time.Second),
			JitterMin:    dur("campaign.jitter_min", c.JitterMin, 0),
			JitterMax:    dur("campaign.jitter_max", c.JitterMax, 0),
			RetryMax:     c.RetryMax,
		},
		RatePerSec:    c.RatePerSec,
		CountryPrefix: c.CountryPrefix,
	}
}
