package runner

import (
	"context"
	"fmt"
	"runtime/debug"

	logx "tickrun/pkg/logx"
)

// cycle is what one pass of the scheduling loop decided, computed under the mutex
// and acted upon outside it.
type cycle struct {
	progress *Snapshot
	admitted []*taskRecord
	stop     bool
	reason   string
}

func (r *Runner) loop(context.Context) {
	defer r.finish()
	defer func() {
		if p := recover(); p != nil {
			r.fault(p, string(debug.Stack()))
		}
	}()

	for {
		// Waiting first lets a batch submitted right after New queue up before admission.
		<-r.clock.After(r.cfg.TickInterval)
		c := r.decide()
		if c.progress != nil {
			r.emitProgress(*c.progress, nil)
		}
		for _, rec := range c.admitted {
			r.launch(rec)
		}
		if c.stop {
			r.log.Debug("runner.loop.stopped", logx.String("reason", c.reason))
			return
		}
	}
}

// decide runs one cycle of the state machine:
//
//  1. progress: log when more than LogProgressWhenFinishing tasks finished since the last log
//  2. idle: nothing pending; stop if drained and nothing runs, else wait
//  3. deadline: past ExpirationTime; wait for running tasks, then stop (pending work is dropped)
//  4. capacity: cap reached; wait
//  5. admission: pop by priority/FIFO until the cap is reached or the queue is empty
func (r *Runner) decide() (c cycle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished-r.lastProgressLogAt > r.cfg.LogProgressWhenFinishing {
		snap := r.snapshotLocked(false)
		c.progress = &snap
		r.lastProgressLogAt = r.finished
	}
	if r.drainRequested && r.state == StateAdmitting {
		r.state = StateDraining
	}

	switch {
	case r.queue.len() == 0:
		if r.drainRequested && r.running == 0 {
			c.stop, c.reason = true, "drained"
		}
	case !r.cfg.ExpirationTime.IsZero() && !r.clock.Now().Before(r.cfg.ExpirationTime):
		if r.running == 0 {
			c.stop, c.reason = true, "expired"
		}
	case r.running >= r.cfg.MaxInParallel:
	default:
		for r.running < r.cfg.MaxInParallel {
			rec, ok := r.queue.pop()
			if !ok {
				break
			}
			r.running++
			c.admitted = append(c.admitted, rec)
		}
	}

	if c.stop {
		r.state = StateStopped
	}
	return c
}

// fault stops the loop after an unexpected panic in the scheduling logic itself.
func (r *Runner) fault(p any, stack string) {
	r.mu.Lock()
	r.state = StateStopped
	r.summary.Fault = fmt.Sprint(p)
	r.mu.Unlock()

	r.log.Error("runner.loop.fault", logx.Any("panic", p), logx.Stack(stack))
	r.emit(faultLine(r.name, p))
}

// finish records the summary, emits the final line and releases drain waiters.
// It runs on every exit path of the loop.
func (r *Runner) finish() {
	defer close(r.done)
	now := r.clock.Now()

	r.mu.Lock()
	r.state = StateStopped
	r.summary = Summary{
		Name:      r.name,
		State:     r.state.String(),
		Submitted: r.submitted,
		Finished:  r.finished,
		Failed:    r.failed,
		Discarded: r.queue.len(),
		StartedAt: r.startedAt,
		StoppedAt: now,
		Fault:     r.summary.Fault,
	}
	sum := r.summary
	r.mu.Unlock()

	if sum.Discarded > 0 {
		r.log.Debug("runner.discarded", logx.Int("pending", sum.Discarded))
	}
	r.emit(finalLine(r.name, sum.Finished))
	r.publish(EventRunnerStopped, now, sum)
	r.log.Info("runner.stopped",
		logx.Int("finished", sum.Finished),
		logx.Int("failed", sum.Failed),
		logx.Int("discarded", sum.Discarded),
		logx.Duration("took", sum.StoppedAt.Sub(sum.StartedAt)),
	)
}
