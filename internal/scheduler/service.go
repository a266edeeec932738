package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logx "stockwatch/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work. ctx is canceled on timeout, on Remove
// and on Stop.
type Job func(ctx context.Context) error

type Option func(*Service)

// WithStartupSpread delays the first run of interval schedules by a per-name
// offset below max. 0 disables it.
func WithStartupSpread(max time.Duration) Option {
	return func(s *Service) { s.spread = max }
}

type scheduleDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	entryID cron.EntryID
	jitter  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool
	runs    atomic.Uint64
	skipped atomic.Uint64
}

// ScheduleInfo is a point-in-time view of one schedule, served on /healthz.
type ScheduleInfo struct {
	Name    string
	Spec    string
	Next    time.Time
	Prev    time.Time
	Running bool
	Runs    uint64
	Skipped uint64
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	spread time.Duration
	parser cron.Parser

	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	defs   map[string]*scheduleDef
}

func New(log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log,
		spread: 30 * time.Second,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*scheduleDef{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins triggering. Schedules added before Start are registered now.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser))
	for _, d := range s.defs {
		if err := s.registerLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("schedules", len(s.defs)), logx.Duration("spread", s.spread))
}

// Stop stops triggering, cancels in-flight runs and waits for them until ctx
// is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	// Runs see a canceled context first; cron's stop context then waits for them.
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; runs still in flight")
	}
	s.log.Info("scheduler stopped")
}

// Add registers job under name, replacing any schedule with the same name.
// schedule accepts everything ParseSchedule does.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)

	d := &scheduleDef{name: name, spec: ps.String(), timeout: timeout, job: job}
	s.defs[name] = d
	if s.c == nil {
		return nil
	}
	if err := s.registerLocked(d); err != nil {
		delete(s.defs, name)
		return err
	}
	s.log.Debug("schedule registered",
		logx.String("name", name),
		logx.String("spec", d.spec),
		logx.Duration("timeout", timeout),
		logx.Duration("spread", d.jitter),
	)
	return nil
}

// Remove unschedules name and cancels its in-flight run. It reports whether
// anything was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeLocked(strings.TrimSpace(name))
	s.mu.Unlock()
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Schedules returns all schedules sorted by name.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{
			Name:    d.name,
			Spec:    d.spec,
			Running: d.running.Load(),
			Runs:    d.runs.Load(),
			Skipped: d.skipped.Load(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Next returns the next planned run of name, zero when unknown.
func (s *Service) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.defs[name]
	if d == nil || s.c == nil || d.entryID == 0 {
		return time.Time{}
	}
	return s.c.Entry(d.entryID).Next
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	if d.cancel != nil {
		d.cancel()
	}
	delete(s.defs, name)
	return true
}

// registerLocked adds d to the running cron. Call with s.mu held.
func (s *Service) registerLocked(d *scheduleDef) error {
	d.ctx, d.cancel = context.WithCancel(s.ctx)
	job := cron.FuncJob(func() { s.fire(d) })

	if strings.HasPrefix(d.spec, "@every ") {
		every, err := time.ParseDuration(strings.TrimPrefix(d.spec, "@every "))
		if err == nil && every > 0 {
			sched, jitter := intervalWithSpread(every, s.spread, time.Now(), d.name)
			d.jitter = jitter
			d.entryID = s.c.Schedule(sched, job)
			return nil
		}
	}
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		d.cancel()
		return err
	}
	d.entryID = id
	return nil
}

// fire runs d once unless the previous run is still going.
func (s *Service) fire(d *scheduleDef) {
	if d.ctx == nil || d.ctx.Err() != nil {
		return
	}
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		s.log.Debug("schedule tick skipped; previous run in flight", logx.String("name", d.name))
		return
	}
	defer d.running.Store(false)
	d.runs.Add(1)

	ctx := d.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled job panicked", logx.String("name", d.name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	if err := d.job(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("scheduled job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
	}
}
