package config

import (
	"reflect"
	"strings"

	logx "tickrun/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe structured
// attrs for logging. Tokens are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Runner != newCfg.Runner {
		changed = append(changed, "runner")
		attrs = append(attrs,
			logx.Int("runner.max_in_parallel", newCfg.Runner.MaxInParallel),
			logx.String("runner.tick_interval", newCfg.Runner.TickInterval),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Sinks, newCfg.Sinks) {
		changed = append(changed, "sinks")
		tg := newCfg.Sinks.Telegram
		attrs = append(attrs,
			logx.Bool("sinks.stdout", newCfg.Sinks.Stdout),
			logx.Bool("sinks.telegram_enabled", tg != nil && tg.Enabled),
			logx.Bool("sinks.telegram_token_set", tg != nil && strings.TrimSpace(tg.Token) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}
	if oldCfg.Triggers != newCfg.Triggers {
		changed = append(changed, "triggers")
		attrs = append(attrs, logx.String("triggers.timezone", newCfg.Triggers.Timezone))
	}
	if !reflect.DeepEqual(oldCfg.Status, newCfg.Status) {
		changed = append(changed, "status")
		if st := newCfg.Status; st != nil {
			attrs = append(attrs,
				logx.Bool("status.enabled", st.Enabled),
				logx.String("status.addr", st.Addr),
				logx.Bool("status.token_set", strings.TrimSpace(st.Token) != ""),
			)
		}
	}
	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		changed = append(changed, "jobs")
		attrs = append(attrs, logx.Int("jobs.count", len(newCfg.Jobs)))
	}
	return changed, attrs
}
