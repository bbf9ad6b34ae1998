package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/time/rate"

	"tickrun/internal/config"
	"tickrun/internal/eventbus"
	"tickrun/internal/jobs"
	"tickrun/internal/observability/status"
	"tickrun/internal/report"
	"tickrun/internal/runner"
	"tickrun/internal/runtime/supervisor"
	"tickrun/internal/sink"
	"tickrun/internal/storage"
	"tickrun/internal/trigger"
	logx "tickrun/pkg/logx"
	"tickrun/pkg/systemdmanager"
)

// App wires one runner to its jobs, triggers, sinks and persistence.
//
// Without scheduled jobs the app runs in batch mode: every job is submitted at
// start, the runner drains, and Done closes once everything ran.
type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	rec   *report.Recorder

	sink    runner.Sink
	tg      *sink.Telegram
	limited *sink.Limited

	entries []jobEntry
	status  *status.Server

	sup        *supervisor.Supervisor
	run        *runner.Runner
	trig       *trigger.Service
	units      *systemdmanager.Manager
	taskCancel context.CancelFunc
	recDone    chan struct{}
	drain      time.Duration

	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
	stopErr  error
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	entries, err := mapJobs(cfg)
	if err != nil {
		return nil, err
	}
	rs, err := mapRunner(cfg, time.Now())
	if err != nil {
		return nil, err
	}

	logs, log, err := logx.New(mapLogging(cfg))
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a := &App{
		cfgm:    cfgm,
		cfg:     cfg,
		log:     log,
		logs:    logs,
		bus:     eventbus.New(),
		entries: entries,
		drain:   rs.drainTimeout,
		done:    make(chan struct{}),
	}

	if sc, enabled, err := mapStorage(cfg); err != nil {
		a.closeEarly()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			a.closeEarly()
			return nil, err
		}
		a.store = st
		a.rec = report.New(a.bus, st, log, 0)
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	if err := a.buildSink(rs.name); err != nil {
		a.closeEarly()
		return nil, err
	}
	if sc, enabled := mapStatus(cfg); enabled {
		srv, err := status.New(sc, a.statusDoc, log)
		if err != nil {
			a.closeEarly()
			return nil, err
		}
		a.status = srv
	}
	return a, nil
}

// Status is the /status document.
type Status struct {
	Runner     *runner.Snapshot    `json:"runner,omitempty"`
	Summary    *runner.Summary     `json:"summary,omitempty"`
	Triggers   []trigger.EntryInfo `json:"triggers,omitempty"`
	Dropped    map[string]uint64   `json:"dropped,omitempty"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
}

func (a *App) statusDoc() any {
	var doc Status
	if a.run != nil {
		snap := a.run.Snapshot()
		doc.Runner = &snap
		if sum, ok := a.run.Summary(); ok {
			doc.Summary = &sum
		}
	}
	if a.trig != nil {
		doc.Triggers = a.trig.Entries()
	}
	if a.sup != nil {
		doc.Supervisor = a.sup.Snapshot()
	}
	doc.Dropped = map[string]uint64{"events": a.bus.Dropped()}
	if a.limited != nil {
		doc.Dropped["progress"] = a.limited.Dropped()
	}
	if a.tg != nil {
		_, dropped, _ := a.tg.Stats()
		doc.Dropped["telegram"] = dropped
	}
	return doc
}

// buildSink fans lines out to every enabled sink. With none enabled, lines go to the log.
func (a *App) buildSink(name string) error {
	var sinks []runner.Sink
	if a.cfg.Sinks.Stdout {
		sinks = append(sinks, sink.Writer(os.Stdout))
	}
	if a.cfg.Sinks.Log {
		sinks = append(sinks, sink.Log(a.log.With(logx.String("comp", "sink"))))
	}
	tc, enabled, err := mapTelegram(a.cfg)
	if err != nil {
		return err
	}
	if enabled {
		tg, err := sink.NewTelegram(tc, a.log.With(logx.String("comp", "telegram")))
		if err != nil {
			return fmt.Errorf("sinks.telegram: %w", err)
		}
		a.tg = tg
		sinks = append(sinks, tg)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, sink.Log(a.log.With(logx.String("comp", "sink"))))
	}

	out := sink.Multi(sinks...)
	if pps := a.cfg.Sinks.ProgressPerSec; pps > 0 {
		a.limited = sink.RateLimited(out, rate.NewLimiter(rate.Limit(pps), 1), sink.ForRunner(name))
		out = a.limited
	}
	a.sink = out
	return nil
}

// closeEarly releases what New opened before it failed.
func (a *App) closeEarly() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// Done is closed when the runner stopped or the app failed fatally.
func (a *App) Done() <-chan struct{} { return a.done }

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Summary returns the runner's final summary; ok is false until it stopped.
func (a *App) Summary() (runner.Summary, bool) {
	if a.run == nil {
		return runner.Summary{}, false
	}
	return a.run.Summary()
}

// LogProgress emits the runner's counters right away.
func (a *App) LogProgress(annotations ...string) {
	if a.run != nil {
		a.run.LogProgress(annotations...)
	}
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app: already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	var opts []jobs.Option
	if jobs.NeedsUnits(specsOf(a.entries)) {
		units, err := systemdmanager.Connect(ctx)
		if err != nil {
			return fmt.Errorf("systemd: %w", err)
		}
		a.units = units
		opts = append(opts, jobs.WithUnits(units))
	}
	actions := make([]runner.Action, len(a.entries))
	for i, e := range a.entries {
		act, err := jobs.Action(e.spec, a.log.With(logx.String("comp", "jobs")), opts...)
		if err != nil {
			return err
		}
		actions[i] = act
	}

	// The recorder outlives the app context: it must still see runner.stopped during Stop.
	if a.rec != nil {
		a.recDone = make(chan struct{})
		a.sup.Go("report.recorder", func(c context.Context) error {
			defer close(a.recDone)
			return a.rec.Run(context.WithoutCancel(c))
		})
	}
	if a.log.Enabled(logx.LevelDebug) {
		a.logEvents()
	}

	rs, err := mapRunner(a.cfg, time.Now())
	if err != nil {
		return err
	}
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.taskCancel = cancel
	a.run = runner.New(rs.name, rs.cfg,
		runner.WithSink(a.sink),
		runner.WithLogger(a.log.With(logx.String("comp", "runner"))),
		runner.WithBus(a.bus),
		runner.WithContext(taskCtx),
	)
	a.sup.Go0("runner.watch", a.watchRunner)

	for i, e := range a.entries {
		if e.spec.Schedule != "" {
			continue
		}
		for n := 0; n < e.spec.Runs(); n++ {
			a.run.SubmitWithPriority(e.spec.Priority, actions[i])
		}
	}

	if a.cfg.Scheduled() {
		a.trig = trigger.New(mapTriggers(a.cfg), a.run, a.log.With(logx.String("comp", "trigger")))
		for i, e := range a.entries {
			if e.spec.Schedule == "" {
				continue
			}
			opt := trigger.Options{Priority: e.spec.Priority, AllowOverlap: e.allowOverlap}
			if err := a.trig.AddOpt(e.spec.Name, e.spec.Schedule, opt, actions[i]); err != nil {
				return err
			}
		}
		if err := a.trig.Start(a.sup.Context()); err != nil {
			return err
		}
	} else {
		a.run.RequestDrain()
	}

	a.watchConfig()

	if a.status != nil {
		if err := a.status.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("status: %w", err)
		}
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready")
	}
	a.log.Info("app started",
		logx.String("runner", rs.name),
		logx.Int("jobs", len(a.entries)),
		logx.Bool("batch", a.trig == nil),
	)
	return nil
}

func (a *App) watchRunner(c context.Context) {
	select {
	case <-a.run.Done():
		if sum, ok := a.run.Summary(); ok {
			a.log.Info("runner done",
				logx.Int("finished", sum.Finished),
				logx.Int("failed", sum.Failed),
				logx.Int("discarded", sum.Discarded),
			)
		}
	case <-c.Done():
	}
	a.doneOnce.Do(func() { close(a.done) })
}

// logEvents debug-logs bus traffic. Slow logging drops events, never blocks runners.
func (a *App) logEvents() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				fields := []logx.Field{logx.String("type", e.Type), logx.Time("time", e.Time)}
				if te, ok := e.Data.(runner.TaskEvent); ok && te.Err != nil {
					fields = append(fields, logx.Err(te.Err), logx.Bool("panic", runner.IsPanic(te.Err)))
				}
				a.log.Debug("event", fields...)
			}
		}
	})
}

// watchConfig hot-reloads logging. Other sections need a restart.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				sections, _ := config.SummarizeChange(last, newCfg)
				last = newCfg
				if err := a.logs.Apply(mapLogging(newCfg)); err != nil {
					a.log.Warn("logging reload failed; keeping previous outputs", logx.Err(err))
				}

				var pending []string
				for _, s := range sections {
					if s != "logging" {
						pending = append(pending, s)
					}
				}
				if len(pending) > 0 {
					a.log.Warn("config changed; restart required for changes to take effect",
						logx.String("sections", strings.Join(pending, ",")))
				}
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
}

// Stop stops triggers, drains the runner and closes everything in dependency order.
// Only the first call does any work.
func (a *App) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { a.stopErr = a.stop(ctx) })
	return a.stopErr
}

func (a *App) stop(ctx context.Context) error {
	if a.sup == nil {
		a.closeEarly()
		return nil
	}
	a.log.Info("stopping")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.step(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("status", 2*time.Second, func(c context.Context) error {
		if a.status != nil {
			return a.status.Stop(c)
		}
		return nil
	})
	step("triggers", 2*time.Second, func(c context.Context) error {
		if a.trig != nil {
			a.trig.Stop(c)
		}
		return nil
	})
	step("runner", a.drain, func(c context.Context) error {
		if a.run == nil {
			return nil
		}
		return a.run.DrainAndWait(c)
	})
	// Tasks still running past the drain timeout have their context cancelled.
	if a.taskCancel != nil {
		a.taskCancel()
	}
	step("tasks", 5*time.Second, func(c context.Context) error {
		if a.run == nil {
			return nil
		}
		select {
		case <-a.run.Done():
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("recorder", 3*time.Second, func(c context.Context) error {
		if a.rec == nil {
			return nil
		}
		a.rec.Close()
		select {
		case <-a.recDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("telegram", 5*time.Second, func(c context.Context) error {
		if a.tg == nil {
			return nil
		}
		return a.tg.Close(c)
	})

	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("systemd", time.Second, func(context.Context) error {
		if a.units != nil {
			return a.units.Close()
		}
		return nil
	})

	fields := []logx.Field{}
	if a.rec != nil {
		tasks, runs, failed := a.rec.Stats()
		fields = append(fields, logx.Uint64("recorded_tasks", tasks), logx.Uint64("recorded_runs", runs), logx.Uint64("record_failures", failed))
	}
	if a.limited != nil {
		fields = append(fields, logx.Uint64("progress_dropped", a.limited.Dropped()))
	}
	if a.tg != nil {
		sent, dropped, failed := a.tg.Stats()
		fields = append(fields, logx.Uint64("telegram_sent", sent), logx.Uint64("telegram_dropped", dropped), logx.Uint64("telegram_failed", failed))
	}
	a.log.Info("stopped", fields...)
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// step runs one shutdown step bounded by max (0 = only the caller's deadline).
// A step that overruns is abandoned and logged; shutdown continues.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

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
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			return err
		}
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}
		}()
		return stepCtx.Err()
	}
}
