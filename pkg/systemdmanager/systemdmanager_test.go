package systemdmanager

import (
	"errors"
	"testing"
)

func TestParseAction(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want Action
	}{
		{"", ActionRestart},
		{"start", ActionStart},
		{" STOP ", ActionStop},
		{"Reload", ActionReload},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		if err != nil || got != tt.want {
			t.Fatalf("ParseAction(%q) = %q, %v", tt.in, got, err)
		}
	}
	if _, err := ParseAction("enable"); err == nil {
		t.Fatal("unsupported action should fail")
	}
}

func TestUnitName(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"nginx":             "nginx.service",
		" nginx.service ":   "nginx.service",
		"backup.timer":      "backup.timer",
		"multi-user.target": "multi-user.target",
		"":                  "",
	}
	for in, want := range tests {
		if got := UnitName(in); got != want {
			t.Fatalf("UnitName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestJobError(t *testing.T) {
	t.Parallel()
	var err error = &JobError{Unit: "nginx.service", Action: ActionRestart, Result: "failed"}
	var je *JobError
	if !errors.As(err, &je) || err.Error() != "restart nginx.service: job failed" {
		t.Fatalf("err = %v", err)
	}
}
