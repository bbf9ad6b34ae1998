package config

// Config is the root of the configuration file.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Runner   RunnerConfig   `json:"runner"`
	Logging  LoggingConfig  `json:"logging"`
	Sinks    SinksConfig    `json:"sinks"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Triggers TriggersConfig `json:"triggers"`
	Status   *StatusConfig  `json:"status,omitempty"`
	Jobs     []JobConfig    `json:"jobs"`
}

// RunnerConfig controls the task runner.
//
// Defaults (when fields are omitted/zero):
//   - name: "tickrun"
//   - max_in_parallel: 20
//   - tick_interval: "10ms"
//   - log_progress_when_finishing: 0
//   - history_size: 200
//   - drain_timeout: "0s" (wait forever)
//
// expire_after (relative to startup) and expire_at (RFC 3339) are mutually exclusive.
type RunnerConfig struct {
	Name                     string `json:"name,omitempty"`
	MaxInParallel            int    `json:"max_in_parallel,omitempty"`
	TickInterval             string `json:"tick_interval,omitempty"`
	LogProgressWhenFinishing int    `json:"log_progress_when_finishing,omitempty"`
	ExpireAfter              string `json:"expire_after,omitempty"`
	ExpireAt                 string `json:"expire_at,omitempty"`
	HistorySize              int    `json:"history_size,omitempty"`
	DrainTimeout             string `json:"drain_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SinksConfig selects where progress and diagnostic lines go.
// With nothing enabled, lines go to the logger.
type SinksConfig struct {
	Stdout bool `json:"stdout,omitempty"`
	Log    bool `json:"log,omitempty"`
	// ProgressPerSec rate limits progress lines across all sinks (0 = unlimited).
	ProgressPerSec float64 `json:"progress_per_sec,omitempty"`

	Telegram *TelegramSinkConfig `json:"telegram,omitempty"`
}

// TelegramSinkConfig posts lines to a Telegram chat.
type TelegramSinkConfig struct {
	Enabled    bool    `json:"enabled"`
	Token      string  `json:"token"`
	ChatID     int64   `json:"chat_id"`
	ThreadID   int     `json:"thread_id,omitempty"`
	QueueSize  int     `json:"queue_size,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./state/tickrun.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	Retention   string `json:"retention,omitempty"`    // sqlite; task results older than this are pruned
}

// StatusConfig enables the read-only HTTP status server.
//
// Non-loopback addresses need a token unless allow_insecure is set.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

type TriggersConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	StartupSpread bool   `json:"startup_spread,omitempty"`
}

// JobConfig is one command, or one systemd unit operation, to run.
//
// Without schedule, the job is submitted repeat times (default 1) at startup and the
// process exits once everything ran. With schedule, it is submitted on every firing.
type JobConfig struct {
	Name         string            `json:"name"`
	Command      []string          `json:"command,omitempty"`
	Unit         string            `json:"unit,omitempty"`
	UnitAction   string            `json:"unit_action,omitempty"` // start, stop, restart (default), reload
	Dir          string            `json:"dir,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	Priority     int               `json:"priority,omitempty"`
	Repeat       int               `json:"repeat,omitempty"`
	Schedule     string            `json:"schedule,omitempty"`
	Timeout      string            `json:"timeout,omitempty"`
	AllowOverlap bool              `json:"allow_overlap,omitempty"`
}

// Scheduled reports whether any job has a schedule.
func (c *Config) Scheduled() bool {
	for _, j := range c.Jobs {
		if j.Schedule != "" {
			return true
		}
	}
	return false
}
