package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"echobot/internal/config"
	"echobot/internal/journal"
)

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs(" 123, 456 ,,789")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != 123 || ids[2] != 789 {
		t.Errorf("unexpected ids %v", ids)
	}

	if ids, err := parseIDs(""); err != nil || len(ids) != 0 {
		t.Errorf("blank input should give no ids, got %v, %v", ids, err)
	}
	if _, err := parseIDs("12,abc"); err == nil {
		t.Error("expected error for non-numeric id")
	}
}

func TestJoinIDs(t *testing.T) {
	if got := joinIDs([]int64{1, 22, 333}); got != "1,22,333" {
		t.Errorf("got %q", got)
	}
	if got := joinIDs(nil); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestValidateWizardToken(t *testing.T) {
	valid := []string{"123456:ABC-def_9", "${ECHOBOT_TOKEN}", " 42:x "}
	for _, s := range valid {
		if err := validateWizardToken(s); err != nil {
			t.Errorf("%q: unexpected error %v", s, err)
		}
	}
	invalid := []string{"", "abc", "123456", ":secret", "12:has space"}
	for _, s := range invalid {
		if err := validateWizardToken(s); err == nil {
			t.Errorf("%q: expected error", s)
		}
	}
}

func TestWizardUpdates_AppliedToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("TEST_WIZARD_TOKEN", "123456:ABC-def_9")

	updates := wizardUpdates("${TEST_WIZARD_TOKEN}", []int64{11, 22}, true, true, 9200)
	if err := config.SetInFile(path, updates); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "123456:ABC-def_9") {
		t.Error("expanded token must not be written by the wizard")
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "123456:ABC-def_9" {
		t.Errorf("unexpected token %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AllowFrom) != 2 || !cfg.Journal.Enabled || !cfg.Status.Enabled || cfg.Status.Port != 9200 {
		t.Errorf("wizard answers not applied: %+v", cfg)
	}
}

func TestRenderConfig_UsesConfigPaths(t *testing.T) {
	cfg := config.Defaults()
	cfg.Telegram.Token = "123456:ABC-DEF1234ghIkl"

	out, err := renderConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"telegram:", "poll_timeout: 30", "token: 1234****hIkl", "journal:", "retention_days: 30"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Telegram") || strings.Contains(out, "ABC-DEF") {
		t.Errorf("unexpected Go field names or unmasked token:\n%s", out)
	}
}

func TestRenderSystemd(t *testing.T) {
	unit := renderSystemd("/usr/local/bin/echobot", "/home/u/.echobot/config.yaml")
	if !strings.Contains(unit, "ExecStart=/usr/local/bin/echobot run --config /home/u/.echobot/config.yaml") {
		t.Errorf("unexpected unit:\n%s", unit)
	}
	if strings.Contains(unit, "{{") {
		t.Error("unrendered placeholder left in unit")
	}
}

func TestRenderLaunchd(t *testing.T) {
	plist := renderLaunchd("/opt/echobot", "/tmp/config.yaml", "/tmp/logs")
	for _, want := range []string{
		"<string>/opt/echobot</string>",
		"<string>run</string>",
		"<string>/tmp/config.yaml</string>",
		"<string>" + launchdLabel + "</string>",
		"<string>/tmp/logs/echobot.log</string>",
	} {
		if !strings.Contains(plist, want) {
			t.Errorf("plist missing %q", want)
		}
	}
	if strings.Contains(plist, "{{") {
		t.Error("unrendered placeholder left in plist")
	}
}

func TestBackupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "echobot.db")
	os.WriteFile(cfgPath, []byte("log:\n  level: info\n"), 0o600)
	os.WriteFile(dbPath, []byte("sqlite"), 0o644)
	os.WriteFile(dbPath+"-wal", []byte("wal"), 0o644)

	files := backupFiles(cfgPath, dbPath)
	if len(files) != 3 {
		t.Fatalf("expected 3 files, got %v", files)
	}

	out := filepath.Join(dir, "echobot-backup-20260101-000000.tar.gz")
	if err := createTarGz(out, files); err != nil {
		t.Fatal(err)
	}
	names, err := listTarGz(out)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"config.yaml", "echobot.db", "echobot.db-wal"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("archive entries = %v, want %v", names, want)
	}
	if !isBackupArchive(out) {
		t.Error("expected archive name to be recognized")
	}
}

func TestBackupFiles_Missing(t *testing.T) {
	dir := t.TempDir()
	if files := backupFiles(filepath.Join(dir, "nope.yaml"), filepath.Join(dir, "nope.db")); len(files) != 0 {
		t.Errorf("expected no files, got %v", files)
	}
}

func TestIsBackupArchive(t *testing.T) {
	cases := map[string]bool{
		"echobot-backup-20260101-000000.tar.gz": true,
		"echobot-backup-x.zip":                  false,
		"other.tar.gz":                          false,
	}
	for name, want := range cases {
		if got := isBackupArchive(name); got != want {
			t.Errorf("%s: got %v, want %v", name, got, want)
		}
	}
}

func TestHumanSize(t *testing.T) {
	cases := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		3 * 1024 * 1024: "3.0 MB",
	}
	for in, want := range cases {
		if got := humanSize(in); got != want {
			t.Errorf("humanSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestPrintStats(t *testing.T) {
	last := time.Now()
	stats := journal.Stats{Total: 3, Sent: 2, Failed: 1, Chats: 2, LastAt: &last}
	recent := []journal.Delivery{
		{ChatID: 42, ThreadID: 7, Status: journal.StatusSent, Latency: 120 * time.Millisecond, CreatedAt: last},
		{ChatID: 43, Status: journal.StatusFailed, Error: "Forbidden: bot was blocked by the user", CreatedAt: last},
	}

	var buf bytes.Buffer
	printStats(&buf, stats, recent)
	out := buf.String()

	for _, want := range []string{"Deliveries: 3 (sent 2, failed 1) across 2 chat(s)", "Last reply:", "STATUS", "120ms", "blocked"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintStats_Empty(t *testing.T) {
	var buf bytes.Buffer
	printStats(&buf, journal.Stats{}, nil)
	if strings.Contains(buf.String(), "TIME") {
		t.Error("table header should be omitted when there are no deliveries")
	}
}
