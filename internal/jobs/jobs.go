// Package jobs turns configured commands and systemd unit operations into runner actions.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"tickrun/internal/runner"
	logx "tickrun/pkg/logx"
)

// MaxOutput bounds how much combined output is kept per run. The tail is kept.
const MaxOutput = 16 << 10

// Spec describes one job.
//
// A job runs either Command or UnitAction on Unit, never both.
// A job without Schedule is submitted Repeat times at startup (at least once).
// A job with Schedule is submitted every time the schedule fires.
type Spec struct {
	Name     string
	Command  []string
	Dir      string
	Env      map[string]string
	Priority int
	Repeat   int
	Schedule string
	Timeout  time.Duration

	Unit       string
	UnitAction string // start, stop, restart (default) or reload
}

// Option configures Action.
type Option func(*options)

type options struct {
	units UnitController
}

// WithUnits supplies the controller used by unit jobs.
func WithUnits(u UnitController) Option {
	return func(o *options) { o.units = u }
}

// Runs is how many one-shot submissions the job asks for.
func (s Spec) Runs() int {
	if s.Schedule != "" {
		return 0
	}
	if s.Repeat <= 0 {
		return 1
	}
	return s.Repeat
}

// ExitError is returned when the command ran and exited non-zero.
type ExitError struct {
	Job    string
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s: exit status %d", e.Job, e.Code)
	}
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		out = out[i+1:]
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Job, e.Code, out)
}

// Action returns a runner action that runs the job once.
func Action(spec Spec, log logx.Logger, opts ...Option) (runner.Action, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("job", spec.Name))

	if strings.TrimSpace(spec.Unit) != "" {
		if len(spec.Command) > 0 {
			return nil, fmt.Errorf("job %s: command and unit are mutually exclusive", spec.Name)
		}
		return unitAction(spec, o.units, log)
	}
	if len(spec.Command) == 0 || strings.TrimSpace(spec.Command[0]) == "" {
		return nil, fmt.Errorf("job %s: command required", spec.Name)
	}
	return commandAction(spec, log), nil
}

func commandAction(spec Spec, log logx.Logger) runner.Action {
	env := environ(spec.Env)
	argv := append([]string(nil), spec.Command...)

	return func(ctx context.Context) error {
		if spec.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
			defer cancel()
		}
		out := &tailBuffer{max: MaxOutput}
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = spec.Dir
		cmd.Env = env
		cmd.Stdout = out
		cmd.Stderr = out
		// Children that outlive a killed command must not hold Run open.
		cmd.WaitDelay = time.Second

		start := time.Now()
		err := cmd.Run()
		took := time.Since(start)

		var exitErr *exec.ExitError
		switch {
		case err == nil:
			log.Debug("job.ok", logx.Duration("took", took))
			return nil
		case ctx.Err() != nil:
			log.Warn("job.cancelled", logx.Duration("took", took), logx.Err(ctx.Err()))
			return fmt.Errorf("%s: %w", spec.Name, ctx.Err())
		case errors.As(err, &exitErr):
			ee := &ExitError{Job: spec.Name, Code: exitErr.ExitCode(), Output: out.String()}
			log.Debug("job.exit", logx.Int("code", ee.Code), logx.Duration("took", took))
			return ee
		default:
			return fmt.Errorf("%s: %w", spec.Name, err)
		}
	}
}

func environ(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil // inherit
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// tailBuffer keeps the last max bytes written.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return "[output truncated]\n" + string(b.buf)
	}
	return string(b.buf)
}
