package sink

import (
	"strings"
	"sync/atomic"

	"golang.org/x/time/rate"

	"tickrun/internal/runner"
)

// Limited drops progress lines above a rate. Failure, fault and final lines always pass.
type Limited struct {
	next    runner.Sink
	lim     *rate.Limiter
	name    string
	dropped atomic.Uint64
}

type LimitOption func(*Limited)

// ForRunner lets the sink classify lines by the runner's name instead of by shape alone.
func ForRunner(name string) LimitOption {
	return func(l *Limited) { l.name = name }
}

// RateLimited wraps next. A nil limiter passes everything.
func RateLimited(next runner.Sink, lim *rate.Limiter, opts ...LimitOption) *Limited {
	l := &Limited{next: next, lim: lim}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Limited) Emit(line string) {
	if l.next == nil {
		return
	}
	if l.lim != nil && !IsPriorityLine(l.name, line) && !l.lim.Allow() {
		l.dropped.Add(1)
		return
	}
	l.next.Emit(line)
}

// Dropped is the number of progress lines suppressed so far.
func (l *Limited) Dropped() uint64 { return l.dropped.Load() }

// IsPriorityLine reports whether line must never be rate limited.
// Only progress lines are droppable; unknown lines are kept.
func IsPriorityLine(name, line string) bool {
	if name == "" {
		return !strings.Contains(line, " progress: ")
	}
	return runner.LineKind(name, line) != runner.LineProgress
}
