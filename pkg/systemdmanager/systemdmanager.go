// Package systemdmanager starts, stops and restarts systemd units over D-Bus.
package systemdmanager

import (
	"errors"
	"fmt"
	"strings"
)

// Action is a unit operation.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionReload  Action = "reload"
)

var ErrClosed = errors.New("systemd connection is closed")

// ParseAction accepts start, stop, restart and reload (case-insensitive).
// Empty means restart.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return ActionRestart, nil
	case ActionStart, ActionStop, ActionRestart, ActionReload:
		return a, nil
	default:
		return "", fmt.Errorf("unknown unit action %q (use start, stop, restart or reload)", s)
	}
}

// UnitName appends ".service" to names without a unit suffix.
func UnitName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	for _, suf := range []string{".service", ".timer", ".target", ".socket", ".mount", ".path", ".slice", ".scope"} {
		if strings.HasSuffix(name, suf) {
			return name
		}
	}
	return name + ".service"
}

// JobError reports a systemd job that finished with a result other than "done".
type JobError struct {
	Unit   string
	Action Action
	Result string // canceled, timeout, failed, dependency, skipped
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s %s: job %s", e.Action, e.Unit, e.Result)
}
