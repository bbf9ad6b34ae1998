package runner

import (
	"context"
	"time"

	"tickrun/internal/runtime/supervisor"
)

const (
	DefaultMaxInParallel = 20
	DefaultTickInterval  = 10 * time.Millisecond
	DefaultHistorySize   = 200
)

// Config controls one Runner.
type Config struct {
	// MaxInParallel caps how many actions run at once. Values <= 0 use DefaultMaxInParallel.
	MaxInParallel int

	// TickInterval is the pause between scheduling cycles.
	TickInterval time.Duration

	// LogProgressWhenFinishing is how many newly finished tasks must accumulate,
	// beyond this value, before the loop logs progress on its own.
	// 0 logs on every cycle that finished at least one more task.
	LogProgressWhenFinishing int

	// ExpirationTime stops admission once reached. Zero disables the deadline.
	ExpirationTime time.Time

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.MaxInParallel <= 0 {
		c.MaxInParallel = DefaultMaxInParallel
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.LogProgressWhenFinishing < 0 {
		c.LogProgressWhenFinishing = 0
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Action is one unit of submitted work.
//
// The context is the runner's task context; the runner itself never cancels it.
type Action func(ctx context.Context) error

// State is the loop's position in its lifecycle.
type State int

const (
	StateAdmitting State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateAdmitting:
		return "admitting"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Event types published on the bus.
const (
	EventTaskSubmitted  = "task.submitted"
	EventTaskAdmitted   = "task.admitted"
	EventTaskFinished   = "task.finished"
	EventTaskFailed     = "task.failed"
	EventRunnerProgress = "runner.progress"
	EventRunnerStopped  = "runner.stopped"
)

type HistoryItem struct {
	ID         string
	Priority   int
	Submitted  time.Time
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is the payload of task.* events.
type TaskEvent struct {
	Runner     string        `json:"runner"`
	ID         string        `json:"id"`
	Priority   int           `json:"priority"`
	Submitted  time.Time     `json:"submitted"`
	Started    time.Time     `json:"started,omitempty"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`

	// Err is set on task.failed events.
	Err *TaskError `json:"-"`
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Name           string
	State          State
	Pending        int
	Running        int
	Finished       int
	Failed         int
	Submitted      int
	MaxInParallel  int
	DrainRequested bool

	Goroutines supervisor.Counters
	History    []HistoryItem
}

// Total is finished + pending + running, the denominator of progress lines.
func (s Snapshot) Total() int { return s.Finished + s.Pending + s.Running }

// Summary describes a stopped runner. It is the payload of runner.stopped.
//
// Discarded counts tasks still pending when the loop stopped; they were never admitted.
type Summary struct {
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Submitted int       `json:"submitted"`
	Finished  int       `json:"finished"`
	Failed    int       `json:"failed"`
	Discarded int       `json:"discarded"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	Fault     string    `json:"fault,omitempty"`
}

// Succeeded reports whether every submitted task finished without error.
func (s Summary) Succeeded() bool {
	return s.Fault == "" && s.Failed == 0 && s.Discarded == 0 && s.Finished == s.Submitted
}
