package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	logx "tickrun/pkg/logx"
	"tickrun/pkg/systemdmanager"
)

type fakeUnits struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeUnits) Do(_ context.Context, action systemdmanager.Action, unit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, string(action)+" "+unit)
	return f.err
}

func (f *fakeUnits) ActiveState(_ context.Context, unit string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "state "+unit)
	return "active", nil
}

func TestUnitAction(t *testing.T) {
	t.Parallel()
	fu := &fakeUnits{}
	run, err := Action(Spec{Name: "bounce", Unit: "nginx"}, logx.Nop(), WithUnits(fu))
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	if err := run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(fu.calls) != 2 || fu.calls[0] != "restart nginx.service" || fu.calls[1] != "state nginx.service" {
		t.Fatalf("calls = %v", fu.calls)
	}
}

func TestUnitActionFailure(t *testing.T) {
	t.Parallel()
	jobErr := &systemdmanager.JobError{Unit: "db.service", Action: systemdmanager.ActionStart, Result: "failed"}
	run, err := Action(Spec{Name: "db", Unit: "db", UnitAction: "start"}, logx.Nop(), WithUnits(&fakeUnits{err: jobErr}))
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	err = run(context.Background())
	var je *systemdmanager.JobError
	if !errors.As(err, &je) || je.Result != "failed" {
		t.Fatalf("err = %v", err)
	}
}

func TestUnitActionValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		spec Spec
		opts []Option
	}{
		{"no controller", Spec{Name: "a", Unit: "nginx"}, nil},
		{"bad action", Spec{Name: "a", Unit: "nginx", UnitAction: "mask"}, []Option{WithUnits(&fakeUnits{})}},
		{"both kinds", Spec{Name: "a", Unit: "nginx", Command: []string{"true"}}, []Option{WithUnits(&fakeUnits{})}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Action(tt.spec, logx.Nop(), tt.opts...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if !NeedsUnits([]Spec{{Command: []string{"true"}}, {Unit: "x"}}) || NeedsUnits([]Spec{{Command: []string{"true"}}}) {
		t.Fatal("NeedsUnits misreported")
	}
}
