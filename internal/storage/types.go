package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Retention bounds how long task results are kept (sqlite only). 0 keeps everything.
	Retention time.Duration
}

// TaskResult is one finished task. Keep it compact and schema-stable.
type TaskResult struct {
	At         time.Time `json:"at"`
	Runner     string    `json:"runner"`
	TaskID     string    `json:"task_id"`
	Priority   int       `json:"priority"`
	Submitted  time.Time `json:"submitted"`
	Started    time.Time `json:"started"`
	QueueDelay int64     `json:"queue_delay_ms"`
	TookMS     int64     `json:"took_ms"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
}

// RunSummary is the outcome of one runner lifetime.
type RunSummary struct {
	Runner    string    `json:"runner"`
	State     string    `json:"state"`
	Submitted int       `json:"submitted"`
	Finished  int       `json:"finished"`
	Failed    int       `json:"failed"`
	Discarded int       `json:"discarded"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	Fault     string    `json:"fault,omitempty"`
}
