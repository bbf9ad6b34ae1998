package trigger

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tickrun/internal/runner"
	logx "tickrun/pkg/logx"
)

type recordingSubmitter struct {
	mu         sync.Mutex
	priorities []int
	actions    []runner.Action
}

func (r *recordingSubmitter) SubmitWithPriority(priority int, run runner.Action) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priorities = append(r.priorities, priority)
	r.actions = append(r.actions, run)
	return "id"
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

func noop(context.Context) error { return nil }

func TestAddValidates(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &recordingSubmitter{}, logx.Nop())
	if err := s.Add("", "1m", 0, noop); err == nil {
		t.Fatal("empty name should fail")
	}
	if err := s.Add("x", "1m", 0, nil); err == nil {
		t.Fatal("nil action should fail")
	}
	if err := s.Add("x", "61 * * * *", 0, noop); err == nil || !strings.Contains(err.Error(), "invalid cron") {
		t.Fatalf("bad cron error = %v", err)
	}
	if err := s.Add("x", "@every 1h", 3, noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Same name replaces.
	if err := s.Add("x", "5m", 4, noop); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Spec != "@every 5m0s" || entries[0].Priority != 4 {
		t.Fatalf("entries = %+v", entries)
	}
	if !s.Remove("x") || s.Remove("x") {
		t.Fatal("Remove should report the first removal only")
	}
}

func TestFireSkipsWhileInFlight(t *testing.T) {
	t.Parallel()
	sub := &recordingSubmitter{}
	s := New(Config{}, sub, logx.Nop())
	if err := s.Add("sync", "1h", 7, noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	e := s.entries[0]

	s.fire(e)
	s.fire(e) // previous still pending
	if sub.count() != 1 || e.skipped.Load() != 1 {
		t.Fatalf("submitted=%d skipped=%d", sub.count(), e.skipped.Load())
	}
	if sub.priorities[0] != 7 {
		t.Fatalf("priority = %d, want 7", sub.priorities[0])
	}

	// Running the submitted action clears the in-flight mark.
	if err := sub.actions[0](context.Background()); err != nil {
		t.Fatal(err)
	}
	s.fire(e)
	if sub.count() != 2 {
		t.Fatalf("submitted=%d after completion, want 2", sub.count())
	}
}

func TestFireAllowOverlap(t *testing.T) {
	t.Parallel()
	sub := &recordingSubmitter{}
	s := New(Config{}, sub, logx.Nop())
	if err := s.AddOpt("burst", "1h", Options{AllowOverlap: true}, noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	for i := 0; i < 3; i++ {
		s.fire(s.entries[0])
	}
	if sub.count() != 3 {
		t.Fatalf("submitted=%d, want 3", sub.count())
	}
}

func TestStartFiresIntoRunner(t *testing.T) {
	t.Parallel()
	r := runner.New("cron", runner.Config{TickInterval: time.Millisecond})
	s := New(Config{Timezone: "UTC"}, r, logx.Nop())

	ran := make(chan struct{}, 8)
	if err := s.Add("beat", "@every 1s", 0, func(context.Context) error {
		ran <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if next := s.Entries()[0].Next; next.IsZero() {
		t.Fatal("started entry should have a next activation")
	}

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("schedule never fired")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	if err := r.DrainAndWait(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if s.Entries()[0].Fired == 0 {
		t.Fatal("fired counter not updated")
	}
}

func TestStartStopsWhenContextEnds(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC"}, &recordingSubmitter{}, logx.Nop())
	if err := s.Add("beat", "1h", 0, noop); err != nil {
		t.Fatalf("add: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Entries()[0].Next.IsZero() {
		t.Fatal("started entry should have a next activation")
	}
	cancel()

	deadline := time.Now().Add(5 * time.Second)
	for !s.Entries()[0].Next.IsZero() {
		if time.Now().After(deadline) {
			t.Fatal("service kept firing after its context ended")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop(context.Background())
}

func TestStartRejectsUnknownTimezone(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "Mars/Olympus"}, &recordingSubmitter{}, logx.Nop())
	if err := s.Start(context.Background()); err == nil {
		t.Fatal("unknown timezone should fail")
	}
}

func TestSpreadDelaysOnlyFirstActivation(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	sched, jitter := spreadInterval(10*time.Second, now, "tag")
	if jitter < 0 || jitter >= 10*time.Second {
		t.Fatalf("jitter = %v", jitter)
	}
	first := sched.Next(now)
	if !first.Equal(now.Add(10*time.Second + jitter)) {
		t.Fatalf("first = %v", first)
	}
	if second := sched.Next(first); second.Sub(first) != 10*time.Second {
		t.Fatalf("second gap = %v", second.Sub(first))
	}
}

func TestStartupOffsetIsStablePerName(t *testing.T) {
	t.Parallel()
	a := startupOffset("backup", time.Hour)
	if a != startupOffset("backup", time.Hour) {
		t.Fatal("offset changed between calls for the same name")
	}
	if a < 0 || a >= maxStartupSpread {
		t.Fatalf("offset = %v, want [0, %v)", a, maxStartupSpread)
	}
	if got := startupOffset("backup", 5*time.Second); got >= 5*time.Second {
		t.Fatalf("offset = %v, want below the interval", got)
	}
	if got := startupOffset("backup", 0); got != 0 {
		t.Fatalf("zero interval offset = %v", got)
	}

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	_, j1 := spreadInterval(time.Minute, now, "backup")
	_, j2 := spreadInterval(time.Minute, now.Add(time.Hour), "backup")
	if j1 != j2 || j1 != startupOffset("backup", time.Minute) {
		t.Fatalf("jitter %v vs %v", j1, j2)
	}
}
