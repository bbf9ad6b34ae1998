package runner

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	logx "tickrun/pkg/logx"
)

// launch starts one admitted task in its own goroutine.
// The caller already counted it as running.
func (r *Runner) launch(rec *taskRecord) {
	started := r.clock.Now()
	r.publish(EventTaskAdmitted, started, TaskEvent{
		Runner:     r.name,
		ID:         rec.id,
		Priority:   rec.priority,
		Submitted:  rec.submittedAt,
		Started:    started,
		QueueDelay: nonNegative(started.Sub(rec.submittedAt)),
	})
	r.sup.Go0("task", func(ctx context.Context) {
		err := invoke(ctx, rec)
		r.complete(rec, started, err)
	})
}

// invoke runs the action, turning a panic into a *PanicError.
func invoke(ctx context.Context, rec *taskRecord) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: string(debug.Stack())}
		}
	}()
	if rec.run == nil {
		return ErrNilAction
	}
	return rec.run(ctx)
}

// complete moves a task from running to finished. Failures are reported, never retried.
func (r *Runner) complete(rec *taskRecord, started time.Time, err error) {
	end := r.clock.Now()
	item := HistoryItem{
		ID:         rec.id,
		Priority:   rec.priority,
		Submitted:  rec.submittedAt,
		Started:    started,
		QueueDelay: nonNegative(started.Sub(rec.submittedAt)),
		Duration:   nonNegative(end.Sub(started)),
	}
	if err != nil {
		item.Error = err.Error()
	}

	ev := TaskEvent{
		Runner:     r.name,
		ID:         rec.id,
		Priority:   rec.priority,
		Submitted:  rec.submittedAt,
		Started:    started,
		QueueDelay: item.QueueDelay,
		Duration:   item.Duration,
		Error:      item.Error,
	}
	// Report before counting, so the loop can never stop ahead of a diagnostic.
	if err == nil {
		r.log.Debug("task.finished", logx.String("id", rec.id), logx.Duration("dur", item.Duration))
		r.publish(EventTaskFinished, end, ev)
	} else {
		ev.Err = &TaskError{ID: rec.id, Err: err}
		fields := []logx.Field{logx.String("id", rec.id), logx.Int("priority", rec.priority), logx.Err(err), logx.Duration("dur", item.Duration)}
		var pe *PanicError
		if errors.As(err, &pe) {
			fields = append(fields, logx.Stack(pe.Stack))
		}
		r.log.Warn("task.failed", fields...)
		r.emit(failureLine(r.name, rec.id, err))
		r.publish(EventTaskFailed, end, ev)
	}

	r.mu.Lock()
	r.running--
	r.finished++
	if err != nil {
		r.failed++
	}
	r.history = append(r.history, item)
	if len(r.history) > r.cfg.HistorySize {
		r.history = r.history[len(r.history)-r.cfg.HistorySize:]
	}
	r.mu.Unlock()
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
