// Package report persists runner lifecycle events from the event bus.
package report

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tickrun/internal/eventbus"
	"tickrun/internal/runner"
	"tickrun/internal/storage"
	logx "tickrun/pkg/logx"
)

const (
	defaultBuffer = 1024
	writeTimeout  = 2 * time.Second
)

// Recorder subscribes at construction, so no event published after New is missed
// unless the buffer overflows.
type Recorder struct {
	store storage.Store
	log   logx.Logger

	events <-chan eventbus.Event
	unsub  func()
	once   sync.Once

	tasks  atomic.Uint64
	runs   atomic.Uint64
	failed atomic.Uint64
}

func New(bus eventbus.Bus, store storage.Store, log logx.Logger, buffer int) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	r := &Recorder{store: store, log: log.With(logx.String("comp", "report"))}
	r.events, r.unsub = bus.Subscribe(buffer,
		runner.EventTaskFinished,
		runner.EventTaskFailed,
		runner.EventRunnerStopped,
	)
	return r
}

// Run writes events to the store until ctx is done or Close is called.
// After Close, events already buffered are still written before Run returns.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-r.events:
			if !ok {
				return nil
			}
			r.record(e)
		}
	}
}

// Close unsubscribes from the bus. It is safe to call more than once.
func (r *Recorder) Close() {
	r.once.Do(r.unsub)
}

// Stats returns how many task results and run summaries were written, and how many writes failed.
func (r *Recorder) Stats() (tasks, runs, failed uint64) {
	return r.tasks.Load(), r.runs.Load(), r.failed.Load()
}

func (r *Recorder) record(e eventbus.Event) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch d := e.Data.(type) {
	case runner.TaskEvent:
		err = r.store.AppendTaskResult(ctx, TaskResult(e.Time, d))
		if err == nil {
			r.tasks.Add(1)
		}
	case runner.Summary:
		err = r.store.AppendRunSummary(ctx, RunSummary(d))
		if err == nil {
			r.runs.Add(1)
		}
	default:
		r.log.Debug("report.unexpected_event", logx.String("type", e.Type))
		return
	}
	if err != nil {
		r.failed.Add(1)
		r.log.Warn("report.write_failed", logx.String("type", e.Type), logx.Err(err))
	}
}

// TaskResult converts a task event observed at at.
func TaskResult(at time.Time, ev runner.TaskEvent) storage.TaskResult {
	return storage.TaskResult{
		At:         at,
		Runner:     ev.Runner,
		TaskID:     ev.ID,
		Priority:   ev.Priority,
		Submitted:  ev.Submitted,
		Started:    ev.Started,
		QueueDelay: ev.QueueDelay.Milliseconds(),
		TookMS:     ev.Duration.Milliseconds(),
		OK:         ev.Error == "",
		Error:      ev.Error,
	}
}

func RunSummary(s runner.Summary) storage.RunSummary {
	return storage.RunSummary{
		Runner:    s.Name,
		State:     s.State,
		Submitted: s.Submitted,
		Finished:  s.Finished,
		Failed:    s.Failed,
		Discarded: s.Discarded,
		StartedAt: s.StartedAt,
		StoppedAt: s.StoppedAt,
		Fault:     s.Fault,
	}
}
