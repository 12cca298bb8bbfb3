package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"groupcast/internal/config"
	rtsup "groupcast/internal/runtime/supervisor"
	logx "groupcast/pkg/logx"
)

const (
	// A scheduled batch may be mid-way through its throttle waits.
	schedulerStopMax = 30 * time.Second
	shutdownBudget   = 45 * time.Second
	targetGaugeEvery = time.Minute
)

// Serve runs the scheduler, the ops server and the config watcher until ctx
// is done or a supervised goroutine fails. Resources are released before it
// returns.
func (a *App) Serve(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	if a.store != nil {
		a.sup.Go("directory.gauge", a.targetGaugeLoop)
	}

	a.sched.Start(a.sup.Context())
	a.ops.Start(a.sup.Context())

	a.sdNotify(daemon.SdNotifyReady)
	a.log.Info("serving",
		logx.String("version", Version),
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Int("schedules", len(a.sched.Entries())),
	)

	<-a.sup.Context().Done()
	err := a.sup.Err()
	reason := "context canceled"
	if err != nil {
		reason = "fatal error"
	}

	a.sdNotify(daemon.SdNotifyStopping)
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()
	a.stop(stopCtx, reason)
	return err
}

func (a *App) sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		a.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		a.log.Debug("systemd notified", logx.String("state", state))
	}
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := strings.Join(sections, ",")
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", changed)}, attrs...)...)

	if rs := config.RequiresRestart(sections); len(rs) > 0 {
		a.log.Warn("config changed in sections read at startup; restart to apply", logx.String("sections", strings.Join(rs, ",")))
	}

	a.logs.Apply(mapLogConfig(next))

	if slices.Contains(sections, "wascript") {
		if wcfg, err := mapWascriptConfig(next); err != nil {
			a.log.Warn("invalid wascript config; keeping previous", logx.Err(err))
		} else {
			a.sender.swap(a.newClient(wcfg))
		}
	}

	a.sched.Apply(mapSchedulerConfig(next))
	if err := a.sched.Replace(a.jobs(next)); err != nil {
		a.log.Warn("invalid schedules; keeping previous", logx.Err(err))
	}

	if oc, err := mapOpsConfig(next); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, oc)
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", changed)}, attrs...)...)
}

func (a *App) targetGaugeLoop(ctx context.Context) error {
	t := time.NewTicker(targetGaugeEvery)
	defer t.Stop()
	for {
		lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		targets, err := a.store.ListTargets(lctx, "")
		cancel()
		if err == nil {
			a.metrics.SetTargets(len(targets))
		} else if ctx.Err() == nil {
			a.log.Debug("target count unavailable", logx.Err(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// stop runs bounded shutdown steps so one component cannot stall the rest.
func (a *App) stop(ctx context.Context, reason string) {
	a.log.Info("stopping", logx.String("reason", reason))
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("scheduler", schedulerStopMax, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("ops", 2*time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	a.release(ctx)
}
