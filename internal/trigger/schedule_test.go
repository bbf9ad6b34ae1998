package trigger

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		kind   Kind
		source string
		every  time.Duration
		spec   string
	}{
		{name: "cron", raw: "*/5 * * * *", kind: KindCron, source: "cron", spec: "*/5 * * * *"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: KindCron, source: "cron", spec: "0 0 * * *"},
		{name: "descriptor", raw: "@hourly", kind: KindCron, source: "cron", spec: "@hourly"},
		{name: "every descriptor", raw: "@every 55m", kind: KindCron, source: "cron", spec: "@every 55m"},
		{name: "duration", raw: "10m", kind: KindInterval, source: "duration", every: 10 * time.Minute, spec: "@every 10m0s"},
		{name: "prefixed interval", raw: "interval:45s", kind: KindInterval, source: "duration", every: 45 * time.Second, spec: "@every 45s"},
		{name: "every prefix hhmm", raw: "every: 02:30", kind: KindInterval, source: "hhmm", every: 150 * time.Minute, spec: "@every 2h30m0s"},
		{name: "hhmm", raw: "01:30", kind: KindInterval, source: "hhmm", every: 90 * time.Minute, spec: "@every 1h30m0s"},
		{name: "long hhmm", raw: "100:00", kind: KindInterval, source: "hhmm", every: 100 * time.Hour, spec: "@every 100h0m0s"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == KindInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
			if got.Spec() != tt.spec {
				t.Fatalf("Spec() = %q, want %q", got.Spec(), tt.spec)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "  ", "not-a-schedule", "cron:", "interval:", "00:00", "1:75", "-5m", "interval:soon", "61 * * * *", "cron:0 0 32 * *", "@fortnightly"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) should fail", raw)
		}
	}
}
