package runner

import (
	"time"

	"github.com/raulk/clock"
)

// Clock is the time capability the loop depends on.
// Both clock.New() and clock.NewMock() satisfy it.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

func defaultClock() Clock { return clock.New() }
