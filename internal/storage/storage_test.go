package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "tickrun/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: got (%v, %v), want (nil, nil)", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path should fail")
	}
}

func TestDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "state", "tickrun.db")
			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			testRoundTrip(t, st)
			if err := st.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			// Runs survive a reopen.
			st, err = Open(Config{Driver: driver, Path: path}, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st.Close()
			runs, err := st.RecentRuns(context.Background(), 10)
			if err != nil {
				t.Fatalf("recent after reopen: %v", err)
			}
			if len(runs) != 3 {
				t.Fatalf("after reopen got %d runs, want 3", len(runs))
			}
		})
	}
}

func testRoundTrip(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := st.AppendTaskResult(ctx, TaskResult{
		At: base, Runner: "nightly", TaskID: "t1", Priority: 2,
		Submitted: base.Add(-time.Second), Started: base.Add(-500 * time.Millisecond),
		QueueDelay: 500, TookMS: 500, OK: true,
	}); err != nil {
		t.Fatalf("append task: %v", err)
	}
	if err := st.AppendTaskResult(ctx, TaskResult{At: base, Runner: "nightly", TaskID: "t2", Error: "exit status 3"}); err != nil {
		t.Fatalf("append failed task: %v", err)
	}

	for i := 0; i < 3; i++ {
		sum := RunSummary{
			Runner:    "nightly",
			State:     "stopped",
			Submitted: 10 + i,
			Finished:  10 + i,
			Failed:    i,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			StoppedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
		}
		if i == 2 {
			sum.Fault = "clock broke"
		}
		if err := st.AppendRunSummary(ctx, sum); err != nil {
			t.Fatalf("append run: %v", err)
		}
	}

	runs, err := st.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].Submitted != 12 || runs[1].Submitted != 11 {
		t.Fatalf("runs not most recent first: %+v", runs)
	}
	if runs[0].Fault != "clock broke" || runs[1].Fault != "" {
		t.Fatalf("fault not kept: %+v", runs)
	}
	if !runs[0].StartedAt.Equal(base.Add(2*time.Hour)) || !runs[0].StoppedAt.Equal(base.Add(2*time.Hour+time.Minute)) {
		t.Fatalf("times not kept: %v %v", runs[0].StartedAt, runs[0].StoppedAt)
	}

	if none, err := st.RecentRuns(ctx, 0); err != nil || len(none) != 0 {
		t.Fatalf("limit 0: %v %v", none, err)
	}
}

func TestFileStoreLayout(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "tickrun.json")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx := context.Background()
	_ = st.AppendTaskResult(ctx, TaskResult{Runner: "r", TaskID: "a", OK: true})
	_ = st.AppendRunSummary(ctx, RunSummary{Runner: "r"})
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "tickrun.tasks.jsonl"))
	if err != nil {
		t.Fatalf("tasks file: %v", err)
	}
	if !strings.Contains(string(b), `"task_id":"a"`) {
		t.Fatalf("tasks file content: %s", b)
	}
	if _, err := os.Stat(filepath.Join(dir, "tickrun.runs.jsonl")); err != nil {
		t.Fatalf("runs file: %v", err)
	}
	if err := st.AppendRunSummary(ctx, RunSummary{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close: %v", err)
	}
}

func TestFileStoreSkipsTornLine(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "s")
	if err := os.WriteFile(path+".runs.jsonl", []byte("{\"runner\":\"a\"}\n{\"runner\":"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	runs, err := st.RecentRuns(context.Background(), 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 || runs[0].Runner != "a" {
		t.Fatalf("runs = %+v", runs)
	}
}
