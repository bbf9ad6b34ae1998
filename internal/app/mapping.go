package app

import (
	"fmt"
	"strings"
	"time"

	"tickrun/internal/config"
	"tickrun/internal/jobs"
	"tickrun/internal/observability/status"
	"tickrun/internal/runner"
	"tickrun/internal/sink"
	"tickrun/internal/storage"
	"tickrun/internal/trigger"
	logx "tickrun/pkg/logx"
)

const (
	defaultRunnerName = "tickrun"
	defaultLogFile    = "./tickrun.log"
)

func mapLogging(cfg *config.Config) logx.Config {
	lc := logx.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console}
	if cfg.Logging.File.Enabled {
		lc.File = strings.TrimSpace(cfg.Logging.File.Path)
		if lc.File == "" {
			lc.File = defaultLogFile
		}
	}
	return lc
}

type runnerSettings struct {
	name         string
	cfg          runner.Config
	drainTimeout time.Duration
}

// mapRunner resolves expire_after against now.
func mapRunner(cfg *config.Config, now time.Time) (runnerSettings, error) {
	rc := cfg.Runner
	rs := runnerSettings{name: strings.TrimSpace(rc.Name)}
	if rs.name == "" {
		rs.name = defaultRunnerName
	}

	tick, err := config.ParseDurationField("runner.tick_interval", rc.TickInterval)
	if err != nil {
		return rs, err
	}
	after, err := config.ParseDurationField("runner.expire_after", rc.ExpireAfter)
	if err != nil {
		return rs, err
	}
	at, err := config.ParseTimeField("runner.expire_at", rc.ExpireAt)
	if err != nil {
		return rs, err
	}
	if rs.drainTimeout, err = config.ParseDurationField("runner.drain_timeout", rc.DrainTimeout); err != nil {
		return rs, err
	}
	if after > 0 {
		at = now.Add(after)
	}

	rs.cfg = runner.Config{
		MaxInParallel:            rc.MaxInParallel,
		TickInterval:             tick,
		LogProgressWhenFinishing: rc.LogProgressWhenFinishing,
		ExpirationTime:           at,
		HistorySize:              rc.HistorySize,
	}
	return rs, nil
}

// mapStorage returns ok=false when persistence is disabled.
func mapStorage(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	retention, err := config.ParseDurationField("storage.retention", sc.Retention)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
		Retention:   retention,
	}, true, nil
}

// mapTelegram returns ok=false when the chat sink is disabled.
func mapTelegram(cfg *config.Config) (sink.TelegramConfig, bool, error) {
	tg := cfg.Sinks.Telegram
	if tg == nil || !tg.Enabled {
		return sink.TelegramConfig{}, false, nil
	}
	timeout, err := config.ParseDurationField("sinks.telegram.timeout", tg.Timeout)
	if err != nil {
		return sink.TelegramConfig{}, false, err
	}
	return sink.TelegramConfig{
		Token:      strings.TrimSpace(tg.Token),
		ChatID:     tg.ChatID,
		ThreadID:   tg.ThreadID,
		QueueSize:  tg.QueueSize,
		RatePerSec: tg.RatePerSec,
		Timeout:    timeout,
	}, true, nil
}

// mapStatus returns ok=false when the status server is disabled.
func mapStatus(cfg *config.Config) (status.Config, bool) {
	st := cfg.Status
	if st == nil || !st.Enabled {
		return status.Config{}, false
	}
	return status.Config{
		Addr:          st.Addr,
		Token:         st.Token,
		AllowInsecure: st.AllowInsecure,
		Pprof:         st.Pprof,
	}, true
}

func mapTriggers(cfg *config.Config) trigger.Config {
	return trigger.Config{
		Timezone:      cfg.Triggers.Timezone,
		StartupSpread: cfg.Triggers.StartupSpread,
	}
}

type jobEntry struct {
	spec         jobs.Spec
	allowOverlap bool
}

func mapJobs(cfg *config.Config) ([]jobEntry, error) {
	out := make([]jobEntry, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		name := strings.TrimSpace(j.Name)
		timeout, err := config.ParseDurationField("jobs."+name+".timeout", j.Timeout)
		if err != nil {
			return nil, err
		}
		if j.Schedule != "" {
			if _, err := trigger.ParseSchedule(j.Schedule); err != nil {
				return nil, fmt.Errorf("jobs.%s.schedule: %w", name, err)
			}
		}
		out = append(out, jobEntry{
			spec: jobs.Spec{
				Name:       name,
				Command:    j.Command,
				Dir:        j.Dir,
				Env:        j.Env,
				Priority:   j.Priority,
				Repeat:     j.Repeat,
				Schedule:   strings.TrimSpace(j.Schedule),
				Timeout:    timeout,
				Unit:       strings.TrimSpace(j.Unit),
				UnitAction: j.UnitAction,
			},
			allowOverlap: j.AllowOverlap,
		})
	}
	return out, nil
}

func specsOf(entries []jobEntry) []jobs.Spec {
	out := make([]jobs.Spec, len(entries))
	for i, e := range entries {
		out[i] = e.spec
	}
	return out
}
