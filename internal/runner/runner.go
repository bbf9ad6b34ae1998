package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"tickrun/internal/eventbus"
	"tickrun/internal/runtime/supervisor"
	logx "tickrun/pkg/logx"
)

// Runner admits submitted actions under a concurrency cap, in priority order.
type Runner struct {
	name  string
	cfg   Config
	clock Clock
	sink  Sink
	log   logx.Logger
	bus   eventbus.Bus

	taskCtx context.Context
	sup     *supervisor.Supervisor

	// mu guards everything below.
	mu                sync.Mutex
	state             State
	queue             pendingQueue
	running           int
	finished          int
	failed            int
	submitted         int
	lastProgressLogAt int
	drainRequested    bool
	history           []HistoryItem
	startedAt         time.Time
	summary           Summary

	done chan struct{}
}

type Option func(*Runner)

func WithClock(c Clock) Option {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithSink sets where progress and diagnostic lines go.
// Without it, lines are written to the runner's logger.
func WithSink(s Sink) Option {
	return func(r *Runner) { r.sink = s }
}

func WithLogger(log logx.Logger) Option {
	return func(r *Runner) { r.log = log }
}

func WithBus(bus eventbus.Bus) Option {
	return func(r *Runner) { r.bus = bus }
}

// WithContext sets the parent of the context passed to every action.
func WithContext(ctx context.Context) Option {
	return func(r *Runner) {
		if ctx != nil {
			r.taskCtx = ctx
		}
	}
}

// New creates a Runner and starts its scheduling loop. The first cycle runs one
// tick later, so everything submitted within that tick is admitted in priority order.
func New(name string, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		name:    name,
		cfg:     cfg.withDefaults(),
		clock:   defaultClock(),
		taskCtx: context.Background(),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("runner", name))
	if r.sink == nil {
		r.sink = logSink{log: r.log}
	}
	r.sup = supervisor.New(r.taskCtx, supervisor.WithLogger(r.log))
	r.startedAt = r.clock.Now()

	r.log.Debug("runner.started",
		logx.Int("max_in_parallel", r.cfg.MaxInParallel),
		logx.Duration("tick", r.cfg.TickInterval),
		logx.Int("log_progress_when_finishing", r.cfg.LogProgressWhenFinishing),
	)
	// The loop recovers its own faults; going through the supervisor keeps it counted.
	r.sup.Go0("loop", r.loop)
	return r
}

func (r *Runner) Name() string { return r.name }

// Submit queues run with priority 0 and returns its task id.
func (r *Runner) Submit(run Action) string {
	return r.SubmitWithPriority(0, run)
}

// SubmitWithPriority queues run; higher priorities are admitted first.
//
// Submission never blocks and never fails. Work submitted after the deadline or after
// the loop stopped is accepted but never admitted.
func (r *Runner) SubmitWithPriority(priority int, run Action) string {
	id := uuid.NewString()
	now := r.clock.Now()

	r.mu.Lock()
	r.queue.push(id, run, priority, now)
	r.submitted++
	r.mu.Unlock()

	r.publish(EventTaskSubmitted, now, TaskEvent{Runner: r.name, ID: id, Priority: priority, Submitted: now})
	return id
}

// RequestDrain marks that no more work is expected. The loop stops once the queue and
// the running set are both empty. Calling it again has no further effect.
// The returned channel is closed when the loop has stopped.
func (r *Runner) RequestDrain() <-chan struct{} {
	r.mu.Lock()
	if !r.drainRequested {
		r.drainRequested = true
		if r.state == StateAdmitting {
			r.state = StateDraining
		}
	}
	r.mu.Unlock()
	return r.done
}

// DrainAndWait requests a drain and blocks until the loop has stopped.
// It returns ctx.Err() only if the caller gave up waiting; task and loop failures
// are reported through the sink, never here.
func (r *Runner) DrainAndWait(ctx context.Context) error {
	done := r.RequestDrain()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the loop has stopped, whatever the reason.
func (r *Runner) Done() <-chan struct{} { return r.done }

// LogProgress emits the current counters right away, followed by annotations.
// It does not affect the automatic progress threshold.
func (r *Runner) LogProgress(annotations ...string) {
	r.mu.Lock()
	snap := r.snapshotLocked(false)
	r.mu.Unlock()
	r.emitProgress(snap, annotations)
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(true)
}

// Summary returns the final summary; ok is false while the loop is still running.
func (r *Runner) Summary() (Summary, bool) {
	select {
	case <-r.done:
	default:
		return Summary{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary, true
}

func (r *Runner) snapshotLocked(withHistory bool) Snapshot {
	s := Snapshot{
		Name:           r.name,
		State:          r.state,
		Pending:        r.queue.len(),
		Running:        r.running,
		Finished:       r.finished,
		Failed:         r.failed,
		Submitted:      r.submitted,
		MaxInParallel:  r.cfg.MaxInParallel,
		DrainRequested: r.drainRequested,
		Goroutines:     r.sup.Counters(),
	}
	if withHistory {
		s.History = make([]HistoryItem, len(r.history))
		copy(s.History, r.history)
	}
	return s
}

func (r *Runner) emitProgress(s Snapshot, annotations []string) {
	r.emit(progressLine(s, annotations))
	r.publish(EventRunnerProgress, time.Time{}, s)
}

// emit hands a line to the sink. A panicking sink is logged and otherwise ignored.
func (r *Runner) emit(line string) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("sink.panic", logx.String("line", line), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
	}()
	r.sink.Emit(line)
}

func (r *Runner) publish(typ string, at time.Time, data any) {
	if r.bus == nil {
		return
	}
	if at.IsZero() {
		at = r.clock.Now()
	}
	r.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: data})
}

func (r *Runner) String() string {
	s := r.Snapshot()
	return fmt.Sprintf("runner(%s %s p=%d r=%d f=%d)", s.Name, s.State, s.Pending, s.Running, s.Finished)
}
