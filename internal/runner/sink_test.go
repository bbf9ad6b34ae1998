package runner

import (
	"errors"
	"testing"
)

func TestLineFormats(t *testing.T) {
	t.Parallel()
	s := Snapshot{Name: "nightly", Finished: 3, Pending: 4, Running: 2}
	tests := []struct {
		name string
		got  string
		want string
		kind string
	}{
		{"progress", progressLine(s, nil), "nightly progress: 3 of 9(p: 4 | r: 2) finishes!", LineProgress},
		{"annotated", progressLine(s, []string{"batch", "7"}), "nightly progress: 3 of 9(p: 4 | r: 2) finishes! batch 7", LineProgress},
		{"failure", failureLine("nightly", "abc", errors.New("exit 1")), "nightly task abc failed: exit 1", LineFailure},
		{"fault", faultLine("nightly", "oops"), "nightly loop fault: oops", LineFault},
		{"final", finalLine("nightly", 9), "nightly finished! 9 tasks", LineFinal},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("line = %q, want %q", tt.got, tt.want)
			}
			if k := LineKind("nightly", tt.got); k != tt.kind {
				t.Fatalf("LineKind = %q, want %q", k, tt.kind)
			}
		})
	}
	if k := LineKind("other", "nightly finished! 9 tasks"); k != "" {
		t.Fatalf("LineKind for another runner = %q", k)
	}
}

func TestTaskErrorUnwrap(t *testing.T) {
	t.Parallel()
	base := errors.New("disk full")
	err := error(&TaskError{ID: "t1", Err: base})
	if !errors.Is(err, base) {
		t.Fatal("TaskError should unwrap to its cause")
	}
	if err.Error() != "task t1: disk full" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if IsPanic(err) || !IsPanic(&PanicError{Value: 1}) {
		t.Fatal("IsPanic misclassified")
	}
}
