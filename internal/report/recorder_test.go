package report

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tickrun/internal/eventbus"
	"tickrun/internal/runner"
	"tickrun/internal/storage"
	logx "tickrun/pkg/logx"
)

type memStore struct {
	mu    sync.Mutex
	tasks []storage.TaskResult
	runs  []storage.RunSummary
	fail  bool
}

func (m *memStore) AppendTaskResult(_ context.Context, r storage.TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.tasks = append(m.tasks, r)
	return nil
}

func (m *memStore) AppendRunSummary(_ context.Context, s storage.RunSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.runs = append(m.runs, s)
	return nil
}

func (m *memStore) RecentRuns(context.Context, int) ([]storage.RunSummary, error) { return nil, nil }
func (m *memStore) Close() error                                                   { return nil }

func runRecorder(t *testing.T, rec *Recorder) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- rec.Run(context.Background()) }()
	return done
}

func TestRecorderPersistsRunnerEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	st := &memStore{}
	rec := New(bus, st, logx.Nop(), 0)
	done := runRecorder(t, rec)

	r := runner.New("batch", runner.Config{MaxInParallel: 2, TickInterval: time.Millisecond}, runner.WithBus(bus))
	for i := 0; i < 5; i++ {
		r.Submit(func(context.Context) error { return nil })
	}
	r.Submit(func(context.Context) error { return errors.New("exit status 2") })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.DrainAndWait(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
	rec.Close()
	rec.Close()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.tasks) != 6 {
		t.Fatalf("got %d task results, want 6", len(st.tasks))
	}
	failed := 0
	for _, tr := range st.tasks {
		if tr.Runner != "batch" || tr.TaskID == "" {
			t.Fatalf("bad result %+v", tr)
		}
		if !tr.OK {
			failed++
			if tr.Error != "exit status 2" {
				t.Fatalf("error = %q", tr.Error)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("failed results = %d, want 1", failed)
	}
	if len(st.runs) != 1 || st.runs[0].Finished != 6 || st.runs[0].Failed != 1 || st.runs[0].State != "stopped" {
		t.Fatalf("runs = %+v", st.runs)
	}
	if tasks, runs, werr := rec.Stats(); tasks != 6 || runs != 1 || werr != 0 {
		t.Fatalf("stats = %d/%d/%d", tasks, runs, werr)
	}
}

func TestRecorderCountsWriteFailures(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	st := &memStore{fail: true}
	rec := New(bus, st, logx.Nop(), 4)
	done := runRecorder(t, rec)

	bus.Publish(eventbus.Event{Type: runner.EventTaskFinished, Data: runner.TaskEvent{Runner: "x", ID: "1"}})
	bus.Publish(eventbus.Event{Type: runner.EventRunnerStopped, Data: runner.Summary{Name: "x"}})
	rec.Close()
	<-done

	if _, _, werr := rec.Stats(); werr != 2 {
		t.Fatalf("write failures = %d, want 2", werr)
	}
}

func TestRecorderStopsOnContext(t *testing.T) {
	t.Parallel()
	rec := New(eventbus.New(), &memStore{}, logx.Nop(), 0)
	defer rec.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("run = %v, want context.Canceled", err)
	}
}

func TestRecorderWithFileStore(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "runs")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	bus := eventbus.New()
	rec := New(bus, st, logx.Nop(), 0)
	done := runRecorder(t, rec)
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.Publish(eventbus.Event{Type: runner.EventRunnerStopped, Data: runner.Summary{
		Name: "nightly", State: "stopped", Submitted: 3, Finished: 3, StartedAt: start, StoppedAt: start.Add(time.Minute),
	}})
	rec.Close()
	<-done

	runs, err := st.RecentRuns(context.Background(), 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 || runs[0].Runner != "nightly" || runs[0].Finished != 3 {
		t.Fatalf("runs = %+v", runs)
	}
}
