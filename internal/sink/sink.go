package sink

import (
	"fmt"
	"io"
	"sync"

	"tickrun/internal/runner"
	logx "tickrun/pkg/logx"
)

type logSink struct{ log logx.Logger }

// Log writes every line as an info record.
func Log(log logx.Logger) runner.Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return logSink{log: log}
}

func (s logSink) Emit(line string) { s.log.Info(line) }

type writerSink struct {
	mu sync.Mutex
	w  io.Writer
}

// Writer writes one line per Emit. Concurrent Emits never interleave.
func Writer(w io.Writer) runner.Sink {
	return &writerSink{w: w}
}

func (s *writerSink) Emit(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.w, line)
}

type multi []runner.Sink

// Multi fans each line out to every sink, in order. Nil sinks are skipped.
func Multi(sinks ...runner.Sink) runner.Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multi) Emit(line string) {
	for _, s := range m {
		s.Emit(line)
	}
}
