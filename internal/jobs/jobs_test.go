package jobs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	logx "tickrun/pkg/logx"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestActionSuccess(t *testing.T) {
	t.Parallel()
	requireShell(t)
	dir := t.TempDir()
	run, err := Action(Spec{
		Name:    "touch",
		Command: []string{"sh", "-c", `test "$GREETING" = hello && touch marker`},
		Dir:     dir,
		Env:     map[string]string{"GREETING": "hello"},
	}, logx.Nop())
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	if err := run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "marker")); err != nil {
		t.Fatalf("marker not created in Dir: %v", err)
	}
}

func TestActionExitStatus(t *testing.T) {
	t.Parallel()
	requireShell(t)
	run, err := Action(Spec{Name: "fail", Command: []string{"sh", "-c", "echo first; echo disk full >&2; exit 3"}}, logx.Nop())
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	err = run(context.Background())
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if ee.Code != 3 {
		t.Fatalf("code = %d, want 3", ee.Code)
	}
	if got := err.Error(); got != "fail: exit status 3: disk full" {
		t.Fatalf("Error() = %q", got)
	}
	if !strings.Contains(ee.Output, "first") {
		t.Fatalf("output = %q", ee.Output)
	}
}

func TestActionTimeout(t *testing.T) {
	t.Parallel()
	requireShell(t)
	run, err := Action(Spec{Name: "slow", Command: []string{"sh", "-c", "sleep 5"}, Timeout: 50 * time.Millisecond}, logx.Nop())
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	start := time.Now()
	err = run(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Fatal("timeout did not kill the command")
	}
}

func TestActionRequiresCommand(t *testing.T) {
	t.Parallel()
	if _, err := Action(Spec{Name: "empty"}, logx.Nop()); err == nil {
		t.Fatal("empty command should fail")
	}
}

func TestActionMissingBinary(t *testing.T) {
	t.Parallel()
	run, err := Action(Spec{Name: "ghost", Command: []string{"/nonexistent/tickrun-binary"}}, logx.Nop())
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	err = run(context.Background())
	var ee *ExitError
	if err == nil || errors.As(err, &ee) {
		t.Fatalf("err = %v, want a start error", err)
	}
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()
	b := &tailBuffer{max: 4}
	if got := b.String(); got != "" {
		t.Fatalf("empty String() = %q", got)
	}
	n, err := b.Write([]byte("abcdef"))
	if n != 6 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	_, _ = b.Write([]byte("gh"))
	if got := b.String(); got != "[output truncated]\nefgh" {
		t.Fatalf("String() = %q", got)
	}
}

func TestActionLongOutputKeepsLastLine(t *testing.T) {
	t.Parallel()
	requireShell(t)
	script := `i=0; while [ $i -lt 3000 ]; do echo filler-line-$i; i=$((i+1)); done; echo out of inodes >&2; exit 3`
	run, err := Action(Spec{Name: "big", Command: []string{"sh", "-c", script}}, logx.Nop())
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	err = run(context.Background())
	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if got := err.Error(); got != "big: exit status 3: out of inodes" {
		t.Fatalf("Error() = %q", got)
	}
	if !strings.HasPrefix(ee.Output, "[output truncated]\n") || len(ee.Output) > MaxOutput+len("[output truncated]\n") {
		t.Fatalf("output lacks truncation marker or exceeds limit (len %d)", len(ee.Output))
	}
}

func TestSpecRuns(t *testing.T) {
	t.Parallel()
	tests := []struct {
		spec Spec
		want int
	}{
		{Spec{}, 1},
		{Spec{Repeat: 3}, 3},
		{Spec{Repeat: 3, Schedule: "5m"}, 0},
	}
	for _, tt := range tests {
		if got := tt.spec.Runs(); got != tt.want {
			t.Fatalf("Runs(%+v) = %d, want %d", tt.spec, got, tt.want)
		}
	}
}
