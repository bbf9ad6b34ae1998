package trigger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"tickrun/internal/runner"
	logx "tickrun/pkg/logx"
)

// Submitter is the part of *runner.Runner that triggers use.
type Submitter interface {
	SubmitWithPriority(priority int, run runner.Action) string
}

// Config controls the trigger service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means local

	// StartupSpread delays the first firing of interval schedules by a fixed per-name
	// amount, up to min(interval, 30s).
	StartupSpread bool
}

// Options tune one schedule.
type Options struct {
	Priority int

	// AllowOverlap submits on every firing, even while the previous firing's task
	// is still pending or running. By default such firings are skipped.
	AllowOverlap bool
}

type entry struct {
	name     string
	schedule Schedule
	opt      Options
	action   runner.Action

	id     cron.EntryID
	spread time.Duration

	inFlight atomic.Bool
	fired    atomic.Uint64
	skipped  atomic.Uint64
}

// EntryInfo describes one registered schedule.
type EntryInfo struct {
	Name     string
	Spec     string
	Priority int
	Next     time.Time
	Prev     time.Time
	Fired    uint64
	Skipped  uint64
	Spread   time.Duration
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	sub Submitter
	c   *cron.Cron

	entries []*entry
	release func() bool
}

func New(cfg Config, sub Submitter, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log.With(logx.String("comp", "trigger")),
		sub: sub,
	}
}

// Add registers schedule under name with the given priority.
func (s *Service) Add(name, schedule string, priority int, action runner.Action) error {
	return s.AddOpt(name, schedule, Options{Priority: priority}, action)
}

// AddOpt is Add with options. A schedule with the same name is replaced.
func (s *Service) AddOpt(name, schedule string, opt Options, action runner.Action) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("trigger name required")
	}
	if action == nil {
		return fmt.Errorf("trigger %s: %w", name, runner.ErrNilAction)
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", name, err)
	}

	e := &entry{name: name, schedule: ps, opt: opt, action: action}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.entries = append(s.entries, e)
	if s.c != nil {
		if err := s.registerLocked(e); err != nil {
			return err
		}
	}
	s.log.Debug("trigger.added", logx.String("name", name), logx.String("spec", ps.Spec()), logx.Int("priority", opt.Priority))
	return nil
}

// Remove unregisters name. It reports whether a schedule was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	for i, e := range s.entries {
		if e.name != name {
			continue
		}
		if s.c != nil && e.id != 0 {
			s.c.Remove(e.id)
		}
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
		return true
	}
	return false
}

// Start begins firing until Stop is called or ctx is done.
// Calling it again has no effect.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	s.loc = loc
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(loc))
	for _, e := range s.entries {
		if err := s.registerLocked(e); err != nil {
			s.log.Error("trigger.register_failed", logx.String("name", e.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.release = context.AfterFunc(ctx, func() { s.Stop(context.Background()) })
	s.log.Info("trigger.started", logx.String("tz", loc.String()), logx.Int("schedules", len(s.entries)))
	return nil
}

// Stop ends firing and waits for in-progress cron jobs until ctx is done.
// Tasks already submitted stay with the runner.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	c, release := s.c, s.release
	s.c, s.release = nil, nil
	for _, e := range s.entries {
		e.id = 0
	}
	s.mu.Unlock()
	if release != nil {
		release()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("trigger.stopped")
}

// Entries lists registered schedules in registration order.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		info := EntryInfo{
			Name:     e.name,
			Spec:     e.schedule.Spec(),
			Priority: e.opt.Priority,
			Fired:    e.fired.Load(),
			Skipped:  e.skipped.Load(),
			Spread:   e.spread,
		}
		if s.c != nil && e.id != 0 {
			ce := s.c.Entry(e.id)
			info.Next, info.Prev = ce.Next, ce.Prev
		}
		out = append(out, info)
	}
	return out
}

func (s *Service) registerLocked(e *entry) error {
	job := cron.FuncJob(func() { s.fire(e) })
	if e.schedule.Kind == KindInterval && s.cfg.StartupSpread {
		sched, jitter := spreadInterval(e.schedule.Every, time.Now().In(s.loc), e.name)
		e.spread = jitter
		e.id = s.c.Schedule(sched, job)
		return nil
	}
	id, err := s.c.AddJob(e.schedule.Spec(), job)
	if err != nil {
		return err
	}
	e.id = id
	return nil
}

// fire submits one task for e, unless the previous one is still in flight.
func (s *Service) fire(e *entry) {
	if s.sub == nil {
		return
	}
	if !e.opt.AllowOverlap && !e.inFlight.CompareAndSwap(false, true) {
		e.skipped.Add(1)
		s.log.Debug("trigger.skipped", logx.String("name", e.name))
		return
	}
	run := e.action
	if !e.opt.AllowOverlap {
		run = func(ctx context.Context) error {
			defer e.inFlight.Store(false)
			return e.action(ctx)
		}
	}
	id := s.sub.SubmitWithPriority(e.opt.Priority, run)
	e.fired.Add(1)
	s.log.Debug("trigger.fired", logx.String("name", e.name), logx.String("task", id))
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("trigger timezone %q: %w", tz, err)
	}
	return loc, nil
}
