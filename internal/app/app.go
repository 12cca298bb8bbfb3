// Package app wires configuration, logging, delivery and the optional
// background services into a single runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"groupcast/internal/config"
	"groupcast/internal/dispatch"
	"groupcast/internal/eventlog"
	"groupcast/internal/observability/metrics"
	"groupcast/internal/observability/ops"
	"groupcast/internal/observability/tracing"
	rtsup "groupcast/internal/runtime/supervisor"
	"groupcast/internal/storage"
	"groupcast/internal/task/scheduler"
	"groupcast/internal/transport/telegram"
	"groupcast/internal/wascript"
	logx "groupcast/pkg/logx"
)

// Version is stamped at build time with -ldflags "-X groupcast/internal/app.Version=...".
var Version = "dev"

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *rtsup.Supervisor

	root logx.Logger
	log  logx.Logger
	logs *logx.Service
	opts options

	events  *eventlog.Sink
	sender  *liveSender
	disp    *dispatch.Dispatcher
	store   storage.Store
	metrics *metrics.Metrics
	sched   *scheduler.Service
	ops     *ops.Server

	traceShutdown func(context.Context) error
	closeOnce     sync.Once
}

type options struct {
	clock      dispatch.Clock
	httpClient *http.Client
	mirror     logx.Mirror
}

type Option func(*options)

// WithClock replaces the dispatcher clock.
func WithClock(c dispatch.Clock) Option { return func(o *options) { o.clock = c } }

// WithHTTPClient replaces the HTTP client used to reach the provider.
func WithHTTPClient(hc *http.Client) Option { return func(o *options) { o.httpClient = hc } }

// WithLogMirror replaces the Telegram log mirror.
func WithLogMirror(m logx.Mirror) Option { return func(o *options) { o.mirror = m } }

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	mirror := o.mirror
	if mirror == nil && cfg.Logging.Telegram.Enabled {
		m, err := telegram.New(telegram.Config{
			Token:    cfg.Telegram.Token,
			ChatID:   cfg.Telegram.ChatID,
			ThreadID: cfg.Logging.Telegram.ThreadID,
		})
		if err != nil {
			return nil, fmt.Errorf("telegram log mirror: %w", err)
		}
		mirror = m
	}
	logSvc, root := logx.New(mapLogConfig(cfg), mirror)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		root:    root,
		opts:    o,
		log:     root.With(logx.String("comp", "app")),
		logs:    logSvc,
		metrics: metrics.New(),
	}
	if err := a.build(cfg); err != nil {
		a.release(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	root := a.root
	shutdown, err := tracing.Init(context.Background(), mapTracingConfig(cfg), root.With(logx.String("comp", "tracing")))
	if err != nil {
		return err
	}
	a.traceShutdown = shutdown

	a.events = eventlog.Open(eventLogPath(cfg), root.With(logx.String("comp", "eventlog")))

	wcfg, err := mapWascriptConfig(cfg)
	if err != nil {
		return err
	}
	a.sender = newLiveSender(a.newClient(wcfg), a.metrics)
	a.disp = dispatch.New(a.sender, a.events,
		dispatch.WithClock(a.opts.clock),
		dispatch.WithLogger(root.With(logx.String("comp", "dispatch"))),
	)

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	a.store = st
	if st != nil {
		a.log.Debug("storage enabled", logx.String("driver", sc.Driver))
	}

	a.sched = scheduler.New(mapSchedulerConfig(cfg), root.With(logx.String("comp", "scheduler")))
	if err := a.sched.Replace(a.jobs(cfg)); err != nil {
		return err
	}

	oc, err := mapOpsConfig(cfg)
	if err != nil {
		return err
	}
	a.ops = ops.New(oc, root.With(logx.String("comp", "ops")),
		ops.WithRoute("/metrics", a.metrics.Handler()),
		ops.WithHealth(a.health),
		ops.WithStatus(a.status),
	)
	return nil
}

func (a *App) newClient(wcfg wascript.Config) *wascript.Client {
	var wopts []wascript.Option
	if a.opts.httpClient != nil {
		wopts = append(wopts, wascript.WithHTTPClient(a.opts.httpClient))
	}
	return wascript.New(wcfg, a.root.With(logx.String("comp", "wascript")), wopts...)
}

// Config returns the active configuration.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Targets exposes the target directory. It is nil when storage is disabled.
func (a *App) Targets() storage.Store { return a.store }

// Logger returns the app's root logger.
func (a *App) Logger() logx.Logger { return a.root }

// Close releases resources held by an App that was never served. It is
// safe to call after Serve returns.
func (a *App) Close(ctx context.Context) error {
	a.release(ctx)
	return nil
}

func (a *App) release(ctx context.Context) {
	a.closeOnce.Do(func() {
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				a.log.Warn("storage close failed", logx.Err(err))
			}
		}
		if a.events != nil {
			_ = a.events.Close()
		}
		if a.traceShutdown != nil {
			sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := a.traceShutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				a.log.Debug("tracing shutdown failed", logx.Err(err))
			}
			cancel()
		}
		if a.logs != nil {
			_ = a.logs.Close()
		}
	})
}

func (a *App) health() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

type statusView struct {
	Version    string            `json:"version"`
	Scheduler  bool              `json:"scheduler_enabled"`
	Schedules  []scheduleStatus  `json:"schedules"`
	Supervisor *rtsup.Snapshot   `json:"supervisor,omitempty"`
	Config     map[string]string `json:"config"`
}

type scheduleStatus struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitzero"`
	Prev time.Time `json:"prev,omitzero"`
}

func (a *App) status() any {
	cfg := a.cfgm.Get()
	v := statusView{
		Version:   Version,
		Scheduler: a.sched.Enabled(),
		Config: map[string]string{
			"path":             a.cfgPath,
			"default_interval": defaultInterval(cfg).String(),
			"event_log":        eventLogPath(cfg),
			"token_set":        fmt.Sprint(strings.TrimSpace(cfg.Wascript.Token) != ""),
		},
	}
	for _, e := range a.sched.Entries() {
		v.Schedules = append(v.Schedules, scheduleStatus{Name: e.Name, Spec: e.Spec, Next: e.Next, Prev: e.Prev})
	}
	if a.sup != nil {
		snap := a.sup.Snapshot()
		v.Supervisor = &snap
	}
	return v
}
