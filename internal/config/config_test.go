package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CDPPort != 9222 || cfg.CDPAddress != "127.0.0.1" {
		t.Fatalf("cdp defaults = %s:%d", cfg.CDPAddress, cfg.CDPPort)
	}
	if cfg.FeedbackDelay != 150*time.Millisecond {
		t.Fatalf("feedback delay = %s", cfg.FeedbackDelay)
	}
	if cfg.CDPURL() != "http://127.0.0.1:9222" {
		t.Fatalf("CDPURL = %s", cfg.CDPURL())
	}
	if cfg.APIAddr() != "127.0.0.1:8710" {
		t.Fatalf("APIAddr = %s", cfg.APIAddr())
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("ELEMENTCAP_CDP_PORT", "9333")
	t.Setenv("ELEMENTCAP_TAB_URL_FILTER", "example.com")
	t.Setenv("ELEMENTCAP_FEEDBACK_DELAY", "200ms")
	t.Setenv("ELEMENTCAP_MAX_RECORDS", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CDPPort != 9333 {
		t.Fatalf("cdp port = %d", cfg.CDPPort)
	}
	if cfg.TabURLFilter != "example.com" {
		t.Fatalf("url filter = %q", cfg.TabURLFilter)
	}
	if cfg.FeedbackDelay != 200*time.Millisecond {
		t.Fatalf("feedback delay = %s", cfg.FeedbackDelay)
	}
	if cfg.MaxRecords != 50 {
		t.Fatalf("max records = %d", cfg.MaxRecords)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("ELEMENTCAP_MAX_RECORDS", "-1")
	if _, err := Load(); err == nil {
		t.Fatal("negative record capacity accepted")
	}
}

func TestInvalidEnvValuesFallBack(t *testing.T) {
	t.Setenv("ELEMENTCAP_CDP_PORT", "not-a-number")
	t.Setenv("ELEMENTCAP_SYNC_INTERVAL", "often")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CDPPort != 9222 {
		t.Fatalf("cdp port = %d, want default", cfg.CDPPort)
	}
	if cfg.SyncInterval != 5*time.Second {
		t.Fatalf("sync interval = %s, want default", cfg.SyncInterval)
	}
}

func TestLoadProbesBuiltins(t *testing.T) {
	probes, err := LoadProbes("")
	if err != nil {
		t.Fatalf("LoadProbes: %v", err)
	}
	if len(probes) == 0 {
		t.Fatal("built-in probe set is empty")
	}
}

func TestLoadProbesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probes.yaml")
	content := `probes:
  - name: React
    global: React
    attribute: data-reactroot
  - name: HTMX
    script_substring: htmx
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	probes, err := LoadProbes(path)
	if err != nil {
		t.Fatalf("LoadProbes: %v", err)
	}
	if len(probes) != 2 {
		t.Fatalf("probes = %d", len(probes))
	}
	if probes[1].Name != "HTMX" || probes[1].ScriptSubstring != "htmx" {
		t.Fatalf("probe[1] = %+v", probes[1])
	}
}

func TestLoadProbesValidation(t *testing.T) {
	dir := t.TempDir()

	noName := filepath.Join(dir, "noname.yaml")
	os.WriteFile(noName, []byte("probes:\n  - global: React\n"), 0o644)
	if _, err := LoadProbes(noName); err == nil {
		t.Fatal("probe without name accepted")
	}

	noRule := filepath.Join(dir, "norule.yaml")
	os.WriteFile(noRule, []byte("probes:\n  - name: Ghost\n"), 0o644)
	if _, err := LoadProbes(noRule); err == nil {
		t.Fatal("probe without detection rule accepted")
	}

	if _, err := LoadProbes(filepath.Join(dir, "absent.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
