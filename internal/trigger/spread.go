package trigger

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// startupOffset maps name onto whole seconds in [0, min(every, 30s)).
// The same name always gets the same offset.
func startupOffset(name string, every time.Duration) time.Duration {
	if every < time.Second {
		return 0
	}
	secs := uint64(min(every, maxStartupSpread) / time.Second)
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return time.Duration(h.Sum64()%secs) * time.Second
}

// delayedFirst fires first at a fixed time, then follows every.
type delayedFirst struct {
	every cron.Schedule
	at    time.Time
}

func (d *delayedFirst) Next(t time.Time) time.Time {
	if t.Before(d.at) {
		return d.at
	}
	return d.every.Next(t)
}

// spreadInterval returns an interval schedule whose first firing is pushed
// back by the name's startup offset.
func spreadInterval(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	off := startupOffset(name, every)
	if off == 0 {
		return cron.Every(every), 0
	}
	return &delayedFirst{every: cron.Every(every), at: now.Add(every + off)}, off
}
