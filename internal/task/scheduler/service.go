package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "groupcast/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "America/Sao_Paulo"
}

// Job is one recurring batch. Run receives the context passed to Start.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Entry describes a registered job for status output.
type Entry struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type jobDef struct {
	Job
	cronSpec string
	entryID  cron.EntryID
}

type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	parser cron.Parser

	c       *cron.Cron
	loc     *time.Location
	base    context.Context
	started bool
	defs    []jobDef

	failMu   sync.Mutex
	lastFail map[string]time.Time
}

const failWarnThrottle = time.Minute

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		base:     context.Background(),
		lastFail: map[string]time.Time{},
	}
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A timezone change restarts cron with the same jobs;
// toggling Enabled starts or stops triggering.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	wasEnabled := s.cfg.Enabled
	s.cfg = cfg

	switch {
	case s.c == nil && cfg.Enabled && !wasEnabled && s.started:
		s.startLocked()
	case s.c != nil && !cfg.Enabled:
		// Running jobs finish on their own.
		s.c.Stop()
		s.c = nil
	case s.c != nil && oldTZ != strings.TrimSpace(cfg.Timezone):
		s.c.Stop()
		s.startLocked()
	}
}

// Check reports what Replace would reject, without touching the registered set.
func (s *Service) Check(jobs []Job) error {
	_, err := s.compile(jobs)
	return err
}

// Replace validates jobs and swaps the registered set atomically. On error
// the previous set stays in place.
func (s *Service) Replace(jobs []Job) error {
	defs, err := s.compile(jobs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		for _, d := range s.defs {
			s.c.Remove(d.entryID)
		}
	}
	s.defs = defs
	if s.c != nil {
		for i := range s.defs {
			s.addLocked(&s.defs[i])
		}
	}
	s.log.Info("schedules replaced", logx.Int("count", len(defs)))
	return nil
}

func (s *Service) compile(jobs []Job) ([]jobDef, error) {
	defs := make([]jobDef, 0, len(jobs))
	seen := map[string]struct{}{}
	var errs []error
	for _, j := range jobs {
		name := strings.TrimSpace(j.Name)
		if name == "" || j.Run == nil {
			errs = append(errs, fmt.Errorf("schedule %q: name and run are required", j.Name))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("schedule %q: duplicate name", name))
			continue
		}
		seen[name] = struct{}{}
		ps, err := ParseSchedule(j.Spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule %q: %w", name, err))
			continue
		}
		if ps.Kind == SpecCron {
			if _, err := s.parser.Parse(ps.Cron); err != nil {
				errs = append(errs, fmt.Errorf("schedule %q: %w", name, err))
				continue
			}
		}
		j.Name = name
		defs = append(defs, jobDef{Job: j, cronSpec: ps.Cron})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return defs, nil
}

// Start begins triggering if the service is enabled. ctx is handed to every
// job run; Stop must still be called to halt cron.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.base = ctx
	s.started = true
	if s.c != nil {
		return
	}
	s.log.Debug("start requested", logx.Bool("enabled", s.cfg.Enabled), logx.String("tz", strings.TrimSpace(s.cfg.Timezone)))
	if !s.cfg.Enabled {
		return
	}
	s.startLocked()
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for i := range s.defs {
		s.addLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	s.started = false
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Entries lists registered jobs in registration order. Next is zero while
// the service is stopped.
func (s *Service) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.defs))
	for _, d := range s.defs {
		e := Entry{Name: d.Name, Spec: d.Spec}
		if s.c != nil && d.entryID != 0 {
			ce := s.c.Entry(d.entryID)
			e.Next, e.Prev = ce.Next, ce.Prev
		}
		out = append(out, e)
	}
	return out
}

func (s *Service) addLocked(d *jobDef) {
	ctx, j := s.base, d.Job
	job := cron.FuncJob(func() { s.run(ctx, j) })

	if strings.HasPrefix(d.cronSpec, "@every") {
		every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(d.cronSpec, "@every")))
		if err == nil && every > 0 {
			sched, jitter := makeIntervalScheduleWithSpread(every, time.Now().In(s.loc), d.Name)
			d.entryID = s.c.Schedule(sched, job)
			s.log.Debug("schedule registered", logx.String("name", d.Name), logx.String("spec", d.Spec), logx.Duration("spread", jitter))
			return
		}
	}

	eid, err := s.c.AddJob(d.cronSpec, job)
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.Name), logx.String("spec", d.Spec), logx.Err(err))
		return
	}
	d.entryID = eid
	s.log.Debug("schedule registered",
		logx.String("name", d.Name),
		logx.String("spec", d.Spec),
		logx.String("next", s.previewNextRunsLocked(d.cronSpec, 3)),
	)
}

func (s *Service) run(ctx context.Context, j Job) {
	start := time.Now()
	s.log.Info("schedule triggered", logx.String("schedule", j.Name))
	if err := j.Run(ctx); err != nil {
		s.reportRunError(j.Name, err)
		return
	}
	s.log.Debug("schedule finished", logx.String("schedule", j.Name), logx.Duration("took", time.Since(start)))
}

// reportRunError throttles repeated failures of the same schedule.
func (s *Service) reportRunError(name string, err error) {
	now := time.Now()
	s.failMu.Lock()
	last := s.lastFail[name]
	if !last.IsZero() && now.Sub(last) < failWarnThrottle {
		s.failMu.Unlock()
		return
	}
	s.lastFail[name] = now
	s.failMu.Unlock()

	s.log.Warn("schedule run failed", logx.String("schedule", name), logx.Err(err))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// previewNextRunsLocked returns upcoming run times for debug logs.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for range n {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}
