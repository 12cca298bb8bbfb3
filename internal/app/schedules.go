package app

import (
	"context"
	"strings"

	"groupcast/internal/config"
	"groupcast/internal/task/scheduler"
	logx "groupcast/pkg/logx"
)

// jobs turns the schedules section into scheduler jobs. Disabled entries
// are dropped; intervals were validated at load.
func (a *App) jobs(cfg *config.Config) []scheduler.Job {
	out := make([]scheduler.Job, 0, len(cfg.Schedules))
	for _, sc := range cfg.Schedules {
		if sc.Disabled {
			continue
		}
		interval, err := config.ParseInterval("schedules.interval", sc.Interval)
		if err != nil {
			a.log.Warn("schedule interval ignored", logx.String("schedule", sc.Name), logx.Err(err))
			interval = 0
		}
		req := SendRequest{
			Message:   sc.Message,
			TargetIDs: append([]string(nil), sc.Targets...),
			Category:  sc.Category,
			Interval:  interval,
			Source:    "schedule:" + strings.TrimSpace(sc.Name),
		}
		out = append(out, scheduler.Job{
			Name: sc.Name,
			Spec: sc.Spec,
			Run: func(ctx context.Context) error {
				_, err := a.Send(ctx, req)
				return err
			},
		})
	}
	return out
}

// validate is installed as the config manager's reload hook. It rejects
// anything New would have refused.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapWascriptConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	return a.sched.Check(a.jobs(cfg))
}
