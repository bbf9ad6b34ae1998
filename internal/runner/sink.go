package runner

import (
	"fmt"
	"strings"

	logx "tickrun/pkg/logx"
)

// Sink receives formatted progress and diagnostic lines.
// Emit is called from the loop and from task goroutines and must not block for long.
type Sink interface {
	Emit(line string)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(line string)

func (f SinkFunc) Emit(line string) { f(line) }

type logSink struct{ log logx.Logger }

func (s logSink) Emit(line string) { s.log.Info(line) }

// Line kinds, used by sinks that treat lines differently (e.g. rate limiting).
const (
	LineProgress = "progress"
	LineFailure  = "failure"
	LineFault    = "fault"
	LineFinal    = "final"
)

func progressLine(s Snapshot, annotations []string) string {
	line := fmt.Sprintf("%s progress: %d of %d(p: %d | r: %d) finishes!",
		s.Name, s.Finished, s.Total(), s.Pending, s.Running)
	if len(annotations) > 0 {
		line += " " + strings.Join(annotations, " ")
	}
	return line
}

func failureLine(name, id string, err error) string {
	return fmt.Sprintf("%s task %s failed: %v", name, id, err)
}

func faultLine(name string, detail any) string {
	return fmt.Sprintf("%s loop fault: %v", name, detail)
}

func finalLine(name string, finished int) string {
	return fmt.Sprintf("%s finished! %d tasks", name, finished)
}

// LineKind classifies a line produced by a Runner named name.
func LineKind(name, line string) string {
	rest, ok := strings.CutPrefix(line, name+" ")
	if !ok {
		return ""
	}
	switch {
	case strings.HasPrefix(rest, "progress: "):
		return LineProgress
	case strings.HasPrefix(rest, "task ") && strings.Contains(rest, " failed: "):
		return LineFailure
	case strings.HasPrefix(rest, "loop fault: "):
		return LineFault
	case strings.HasPrefix(rest, "finished! "):
		return LineFinal
	default:
		return ""
	}
}
