package jobs

import (
	"context"
	"fmt"
	"time"

	"tickrun/internal/runner"
	logx "tickrun/pkg/logx"
	"tickrun/pkg/systemdmanager"
)

// defaultUnitTimeout bounds one D-Bus job when the job sets no timeout.
const defaultUnitTimeout = 90 * time.Second

// UnitController is the part of *systemdmanager.Manager unit jobs use.
type UnitController interface {
	Do(ctx context.Context, action systemdmanager.Action, unit string) error
}

// stateReader is optionally implemented by a UnitController.
type stateReader interface {
	ActiveState(ctx context.Context, unit string) (string, error)
}

func unitAction(spec Spec, units UnitController, log logx.Logger) (runner.Action, error) {
	action, err := systemdmanager.ParseAction(spec.UnitAction)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", spec.Name, err)
	}
	if units == nil {
		return nil, fmt.Errorf("job %s: unit jobs need a systemd connection", spec.Name)
	}
	unit := systemdmanager.UnitName(spec.Unit)
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultUnitTimeout
	}

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		start := time.Now()
		if err := units.Do(ctx, action, unit); err != nil {
			return fmt.Errorf("%s: %w", spec.Name, err)
		}
		fields := []logx.Field{logx.String("unit", unit), logx.String("action", string(action)), logx.Duration("took", time.Since(start))}
		if sr, ok := units.(stateReader); ok {
			if state, err := sr.ActiveState(ctx, unit); err == nil {
				fields = append(fields, logx.String("state", state))
			}
		}
		log.Debug("job.unit_ok", fields...)
		return nil
	}, nil
}

// NeedsUnits reports whether any job operates on a systemd unit.
func NeedsUnits(specs []Spec) bool {
	for _, s := range specs {
		if s.Unit != "" {
			return true
		}
	}
	return false
}
