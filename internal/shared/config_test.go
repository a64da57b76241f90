package shared_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mane_reservas/internal/shared"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SNAPSHOT_BACKEND", "")
	t.Setenv("POLICY_FILE", "")
	t.Setenv("PROBE_DELAY_MS", "")

	c, err := shared.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.SnapshotBackend != "memory" {
		t.Fatalf("backend = %q", c.SnapshotBackend)
	}
	if c.Policy.LargeGroupThreshold != 40 || !c.Policy.BirthdayRequired {
		t.Fatalf("unexpected default policy: %+v", c.Policy)
	}
	if c.ProbeDelay != 150*time.Millisecond {
		t.Fatalf("probe delay = %v", c.ProbeDelay)
	}
	if c.Location == nil {
		t.Fatalf("location not set")
	}
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("SNAPSHOT_BACKEND", "etcd")
	if _, err := shared.Load(); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoad_ProbeDelayOverride(t *testing.T) {
	t.Setenv("SNAPSHOT_BACKEND", "redis")
	t.Setenv("PROBE_DELAY_MS", "0")
	c, err := shared.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ProbeDelay != 0 || c.Policy.ProbeDelay != 0 {
		t.Fatalf("probe delay override ignored: %v", c.ProbeDelay)
	}
}

func TestLoadPolicy_OverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	body := `
slots: ["12:00", "12:30", "13:00", "13:30", "14:00", "14:30", "15:00", "18:00", "18:30", "19:00", "19:30", "20:00", "20:30"]
large_group_threshold: 25
birthday_required: false
tolerance: 10m
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := shared.LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if len(p.Slots) != 13 || p.LargeGroupThreshold != 25 || p.BirthdayRequired {
		t.Fatalf("overrides not applied: %+v", p)
	}
	if p.Tolerance != 10*time.Minute || p.AdmissionWindow != 45*time.Minute {
		t.Fatalf("durations: tol=%v adm=%v", p.Tolerance, p.AdmissionWindow)
	}
	if p.OpenAt != "12:00" {
		t.Fatalf("untouched fields must keep defaults, got open_at=%q", p.OpenAt)
	}
}

func TestParsePolicy_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad slot":         `slots: ["9:00"]`,
		"empty slots":      `slots: []`,
		"admission <= tol": "tolerance: 50m\nadmission_window: 45m",
		"threshold zero":   `large_group_threshold: 0`,
		"not yaml":         `slots: [`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := shared.ParsePolicy([]byte(body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
