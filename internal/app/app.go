package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"stockwatch/internal/config"
	"stockwatch/internal/health"
	"stockwatch/internal/metrics"
	"stockwatch/internal/notifier"
	"stockwatch/internal/probe"
	"stockwatch/internal/probe/browser"
	"stockwatch/internal/probe/static"
	"stockwatch/internal/router"
	"stockwatch/internal/runtime/supervisor"
	"stockwatch/internal/scheduler"
	"stockwatch/internal/storage"
	"stockwatch/internal/tracker"
	kit "stockwatch/internal/transport"
	"stockwatch/internal/transport/telegram"
	logx "stockwatch/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	store storage.Store
	met   *metrics.Metrics

	adapter *telegram.Adapter
	browser *browser.Fetcher // nil with the static driver

	sched   *scheduler.Service
	notif   *notifier.Service
	tracker *tracker.Manager
	router  *router.Router
	health  *health.Server // nil when disabled

	updates chan kit.Update
}

// New loads the configuration and builds every component. Nothing runs until
// Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateRuntime(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(ctx, telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		met:     metrics.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}

	fetcher, err := a.newFetcher(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	pc, err := mapProbeConfig(cfg)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	prober := probe.New(fetcher, pc, log.With(logx.String("comp", "probe")))

	a.sched = scheduler.New(log.With(logx.String("comp", "scheduler")))
	a.notif = notifier.New(mapNotifierConfig(cfg), ad, log.With(logx.String("comp", "notifier")), a.met)

	tc, err := mapTrackerConfig(cfg)
	if err != nil {
		a.closeResources()
		return nil, err
	}
	a.tracker = tracker.NewManager(tc, store, prober, a.notif, a.sched, a.met, log.With(logx.String("comp", "tracker")))

	a.router = router.New(router.Config{
		Timeout: tc.CycleTimeout + 30*time.Second,
	}, ad, a.tracker, log.With(logx.String("comp", "router")))

	if cfg.Health.Enabled {
		hc := health.Config{Addr: cfg.Health.Addr, Schedules: a.sched.Schedules}
		if cfg.Health.Metrics {
			hc.Metrics = a.met.Handler()
		}
		a.health = health.New(hc, a.tracker, log.With(logx.String("comp", "health")))
	}
	return a, nil
}

func (a *App) newFetcher(cfg *config.Config) (probe.Fetcher, error) {
	switch probeDriver(cfg) {
	case "static":
		nav, err := config.ParseDurationOrDefault("probe.navigation_timeout", cfg.Probe.NavigationTimeout, 30*time.Second)
		if err != nil {
			return nil, err
		}
		a.log.Warn("static probe driver selected; the location widget cannot be driven")
		return static.New(static.Config{UserAgent: cfg.Probe.UserAgent, Timeout: nav}), nil
	default:
		f, err := browser.New(browser.Config{
			MaxParallel: cfg.Probe.MaxParallel,
			UserAgent:   cfg.Probe.UserAgent,
			ExecPath:    cfg.Probe.ExecPath,
		}, a.log)
		if err != nil {
			return nil, err
		}
		a.browser = f
		return f, nil
	}
}

func (a *App) closeResources() {
	if a.browser != nil {
		a.browser.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// validateRuntime rejects values the config package cannot judge on its own.
func validateRuntime(cfg *config.Config) error {
	if _, err := scheduler.ParseSchedule(cfg.Tracker.Interval); err != nil {
		return fmt.Errorf("tracker.interval: %w", err)
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapProbeConfig(cfg); err != nil {
		return err
	}
	_, err := mapTrackerConfig(cfg)
	return err
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.notif.Start(runCtx)
	a.sched.Start(runCtx)

	restored := 0
	if a.cfgm.Get().Tracker.RestoreOnStart {
		n, err := a.tracker.Restore(runCtx)
		if err != nil {
			a.log.Warn("subscription restore failed", logx.Err(err))
		}
		restored = n
		for _, s := range a.tracker.Snapshot() {
			a.log.Debug("tracking",
				logx.Int64("subscriber", s.SubscriberID),
				logx.String("url", s.ProductURL),
				logx.String("pincode", s.PostalCode),
				logx.String("status", string(s.LastKnown)),
				logx.Time("next", a.sched.Next(s.Schedule)),
			)
		}
	}

	menuCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
	if err := a.adapter.UpdateMenuCommands(menuCtx, a.router.MenuCommands()); err != nil {
		a.log.Warn("menu commands update failed", logx.Err(err))
	}
	cancel()

	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	if a.health != nil {
		a.sup.Go("health", a.health.ListenAndServe)
	}
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdogLoop(c, a.log)
	})

	sdNotify(a.log, daemon.SdNotifyReady)
	a.announce(runCtx, restored)
	a.log.Info("app started", logx.Int("restored", restored))
	return nil
}

// announce tells the operator chat that the bot is up.
func (a *App) announce(ctx context.Context, restored int) {
	chatID := a.cfgm.Get().Telegram.DefaultChatID
	if chatID == 0 {
		return
	}
	var b strings.Builder
	b.WriteString("🤖 Stock watcher started.")
	if restored > 0 {
		fmt.Fprintf(&b, " Restored %d subscription(s).", restored)
	}
	if err := a.notif.Send(ctx, chatID, b.String(), notifier.Options{}); err != nil {
		a.log.Warn("startup notice failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		runStep(ctx, a.log, name, max, fn)
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("tracker", time.Second, func(context.Context) error { a.tracker.Close(); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("browser", 2*time.Second, func(context.Context) error {
		if a.browser != nil {
			a.browser.Close()
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (router, health, config watch/reload).
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
