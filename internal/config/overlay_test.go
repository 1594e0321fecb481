package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"invitebot/pkg/logx"
)

func writeOverlay(t *testing.T, name, content string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewManager(path, logx.Nop())
}

func TestParseYAMLOverlay(t *testing.T) {
	m := writeOverlay(t, "overlay.yaml", `
log_level: debug
default_expire: 10m
owner_ids:
  - 111
  - 222
`)
	ov, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ov.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", ov.LogLevel)
	}
	if ov.DefaultExpire != "10m" {
		t.Errorf("DefaultExpire = %q", ov.DefaultExpire)
	}
	if len(ov.OwnerIDs) != 2 || ov.OwnerIDs[0] != 111 || ov.OwnerIDs[1] != 222 {
		t.Errorf("OwnerIDs = %v", ov.OwnerIDs)
	}
}

func TestParseJSONOverlay(t *testing.T) {
	m := writeOverlay(t, "overlay.json", `{"log_level":"warn","owner_ids":[9]}`)
	ov, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ov.LogLevel != "warn" || len(ov.OwnerIDs) != 1 {
		t.Errorf("overlay = %+v", ov)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := writeOverlay(t, "overlay.yaml", "log_levle: debug\n")
	if _, err := m.Parse(); err == nil {
		t.Fatal("misspelled field accepted")
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	for _, raw := range []string{"default_expire: nope", "default_expire: 30s", "default_expire: 2h"} {
		m := writeOverlay(t, "overlay.yaml", raw+"\n")
		if _, err := m.Parse(); err == nil {
			t.Errorf("%q accepted", raw)
		}
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	m := writeOverlay(t, "overlay.json", `{"log_level":"info"}{"log_level":"debug"}`)
	if _, err := m.Parse(); err == nil {
		t.Fatal("concatenated documents accepted")
	}
}

func TestOwnersPrecedence(t *testing.T) {
	t.Parallel()
	cfg := Config{OwnerID: 5}

	if got := cfg.Owners(nil); len(got) != 1 || got[0] != 5 {
		t.Errorf("Owners(nil) = %v, want [5]", got)
	}
	if got := cfg.Owners(&Overlay{OwnerIDs: []int64{7, 8}}); len(got) != 2 || got[0] != 7 {
		t.Errorf("Owners(overlay) = %v, want the overlay list", got)
	}
	if got := (Config{}).Owners(nil); got != nil {
		t.Errorf("Owners with no owner configured = %v, want nil", got)
	}
}

func TestValidateDefaultExpire(t *testing.T) {
	if err := ValidateDefaultExpire(5 * time.Minute); err != nil {
		t.Errorf("5m rejected: %v", err)
	}
	for _, d := range []time.Duration{30 * time.Second, 2 * time.Hour} {
		if err := ValidateDefaultExpire(d); err == nil {
			t.Errorf("%v accepted", d)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("f", " 90s "); err != nil || d != 90*time.Second {
		t.Errorf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("f", ""); err != nil || d != 0 {
		t.Errorf("empty: got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("f", "-1m"); err == nil {
		t.Error("negative duration accepted")
	}
	if _, err := ParseDurationField("f", "soon"); err == nil {
		t.Error("garbage accepted")
	}
}
