package config

import (
	"errors"
	"fmt"
	"strings"

	"tickrun/internal/trigger"
	"tickrun/pkg/systemdmanager"
)

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	r := cfg.Runner
	if r.MaxInParallel < 0 {
		add(errors.New("runner.max_in_parallel: must be >= 0"))
	}
	if r.LogProgressWhenFinishing < 0 {
		add(errors.New("runner.log_progress_when_finishing: must be >= 0"))
	}
	_, err := ParseDurationField("runner.tick_interval", r.TickInterval)
	add(err)
	_, err = ParseDurationField("runner.expire_after", r.ExpireAfter)
	add(err)
	_, err = ParseTimeField("runner.expire_at", r.ExpireAt)
	add(err)
	_, err = ParseDurationField("runner.drain_timeout", r.DrainTimeout)
	add(err)
	if strings.TrimSpace(r.ExpireAfter) != "" && strings.TrimSpace(r.ExpireAt) != "" {
		add(errors.New("runner: expire_after and expire_at are mutually exclusive"))
	}

	if tg := cfg.Sinks.Telegram; tg != nil && tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			add(errors.New("sinks.telegram.token: required when enabled"))
		}
		if tg.ChatID == 0 {
			add(errors.New("sinks.telegram.chat_id: required when enabled"))
		}
		_, err = ParseDurationField("sinks.telegram.timeout", tg.Timeout)
		add(err)
	}
	if cfg.Sinks.ProgressPerSec < 0 {
		add(errors.New("sinks.progress_per_sec: must be >= 0"))
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				add(fmt.Errorf("storage.path: required for driver %s", st.Driver))
			}
		default:
			add(fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
		_, err = ParseDurationField("storage.busy_timeout", st.BusyTimeout)
		add(err)
		_, err = ParseDurationField("storage.retention", st.Retention)
		add(err)
	}

	seen := make(map[string]bool, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		at := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			add(fmt.Errorf("%s.name: required", at))
		} else {
			at = "jobs." + name
			if seen[name] {
				add(fmt.Errorf("%s: duplicate job name", at))
			}
			seen[name] = true
		}
		hasCmd := len(j.Command) > 0 && strings.TrimSpace(j.Command[0]) != ""
		hasUnit := strings.TrimSpace(j.Unit) != ""
		switch {
		case hasCmd && hasUnit:
			add(fmt.Errorf("%s: command and unit are mutually exclusive", at))
		case hasUnit:
			if _, err := systemdmanager.ParseAction(j.UnitAction); err != nil {
				add(fmt.Errorf("%s.unit_action: %w", at, err))
			}
		case !hasCmd:
			add(fmt.Errorf("%s.command: required unless unit is set", at))
		}
		if j.Repeat < 0 {
			add(fmt.Errorf("%s.repeat: must be >= 0", at))
		}
		if j.Schedule != "" {
			if _, err := trigger.ParseSchedule(j.Schedule); err != nil {
				add(fmt.Errorf("%s.schedule: %w", at, err))
			}
			if j.Repeat > 0 {
				add(fmt.Errorf("%s: repeat and schedule are mutually exclusive", at))
			}
		}
		_, err = ParseDurationField(at+".timeout", j.Timeout)
		add(err)
	}
	return errors.Join(errs...)
}
