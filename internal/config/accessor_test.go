package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetByPath(t *testing.T) {
	cfg := Defaults()
	val, err := GetByPath(cfg, "telegram.poll_timeout")
	if err != nil {
		t.Fatal(err)
	}
	if val != 30 {
		t.Errorf("expected 30, got %v (%T)", val, val)
	}
}

func TestGetByPath_Section(t *testing.T) {
	val, err := GetByPath(Defaults(), "status")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := val.(map[string]any); !ok {
		t.Errorf("expected map for section, got %T", val)
	}
}

func TestGetByPath_Unknown(t *testing.T) {
	if _, err := GetByPath(Defaults(), "telegram.nope"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestSetInFile_Int(t *testing.T) {
	path := writeConfig(t, "telegram:\n  poll_timeout: 10\n")
	if err := SetInFile(path, map[string]string{"telegram.poll_timeout": "50"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.PollTimeout != 50 {
		t.Errorf("expected 50, got %d", cfg.Telegram.PollTimeout)
	}
}

func TestSetInFile_EnvOnlyTokenNotPersisted(t *testing.T) {
	path := writeConfig(t, "telegram:\n  poll_timeout: 10\n")
	t.Setenv("ECHOBOT_TELEGRAM__TOKEN", testToken)

	if err := SetInFile(path, map[string]string{"telegram.poll_timeout": "20"}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(readFile(t, path), testToken) {
		t.Fatalf("token from the environment was written to the file:\n%s", readFile(t, path))
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != testToken {
		t.Errorf("env token should still apply at load time, got %q", cfg.Telegram.Token)
	}
}

func TestSetInFile_KeepsReferencesAndHomePaths(t *testing.T) {
	const endpoint = "${TEST_API_ENDPOINT:-https://api.telegram.org/bot%s/%s}"
	path := writeConfig(t, "telegram:\n"+
		"  token: ${TEST_BOT_TOKEN}\n"+
		"  api_endpoint: "+endpoint+"\n"+
		"journal:\n"+
		"  db_path: ~/.echobot/custom.db\n")
	t.Setenv("TEST_BOT_TOKEN", testToken)

	if err := SetInFile(path, map[string]string{"status.port": "9100"}); err != nil {
		t.Fatal(err)
	}

	content := readFile(t, path)
	for _, want := range []string{"${TEST_BOT_TOKEN}", endpoint, "~/.echobot/custom.db"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected %q to survive, file is:\n%s", want, content)
		}
	}
	if strings.Contains(content, testToken) {
		t.Error("expanded token was written to the file")
	}

	k, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if k.Int("status.port") != 9100 {
		t.Errorf("expected port 9100, got %d", k.Int("status.port"))
	}
}

func TestSetInFile_EnvReferenceValue(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	t.Setenv("TEST_BOT_TOKEN", testToken)

	if err := SetInFile(path, map[string]string{"telegram.token": "${TEST_BOT_TOKEN}"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(readFile(t, path), "${TEST_BOT_TOKEN}") {
		t.Errorf("reference should be stored verbatim:\n%s", readFile(t, path))
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != testToken {
		t.Errorf("expected expanded token, got %q", cfg.Telegram.Token)
	}
}

func TestSetInFile_Bool(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	if err := SetInFile(path, map[string]string{"journal.enabled": "true"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Journal.Enabled {
		t.Error("expected journal enabled")
	}
}

func TestSetInFile_List(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	if err := SetInFile(path, map[string]string{"telegram.allow_from": "111, 222"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Telegram.AllowFrom) != 2 || cfg.Telegram.AllowFrom[0] != 111 {
		t.Errorf("unexpected allow list %v", cfg.Telegram.AllowFrom)
	}

	if err := SetInFile(path, map[string]string{"telegram.allow_from": ""}); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Telegram.AllowFrom) != 0 {
		t.Errorf("expected cleared allow list, got %v", cfg.Telegram.AllowFrom)
	}
}

func TestSetInFile_TokenStaysString(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	if err := SetInFile(path, map[string]string{"telegram.token": testToken}); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != testToken {
		t.Errorf("unexpected token %q", cfg.Telegram.Token)
	}
}

func TestSetInFile_InvalidValueLeavesFileUntouched(t *testing.T) {
	const original = "status:\n  port: 9091\n"
	path := writeConfig(t, original)

	if err := SetInFile(path, map[string]string{"status.port": "70000"}); err == nil {
		t.Fatal("expected validation error")
	}
	if err := SetInFile(path, map[string]string{"status.port": "abc"}); err == nil {
		t.Fatal("expected parse error for non-numeric port")
	}
	if got := readFile(t, path); got != original {
		t.Errorf("file should be unchanged, got:\n%s", got)
	}
}

func TestSetInFile_UnknownKey(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	if err := SetInFile(path, map[string]string{"telegram.bogus": "1"}); err == nil {
		t.Fatal("expected error for unknown key")
	}
	if err := SetInFile(path, map[string]string{"bogus.key": "1"}); err == nil {
		t.Fatal("expected error for unknown section")
	}
	if err := SetInFile(path, map[string]string{"telegram": "1"}); err == nil {
		t.Fatal("expected error when setting a whole section")
	}
}

func TestSetInFile_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	if err := SetInFile(path, map[string]string{"journal.retention_days": "7"}); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
	}
}

func TestIsEnvReference(t *testing.T) {
	cases := map[string]bool{
		"${TOKEN}":           true,
		"${TOKEN:-fallback}": true,
		"prefix ${TOKEN}":    false,
		"123:abc":            false,
		"":                   false,
	}
	for in, want := range cases {
		if got := IsEnvReference(in); got != want {
			t.Errorf("IsEnvReference(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestValidateToken(t *testing.T) {
	if err := ValidateToken(testToken); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "abc", "123456", ":secret", "12:has space"} {
		if err := ValidateToken(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestSanitize_MasksToken(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = testToken

	s := Sanitize(cfg)
	if s.Telegram.Token == testToken {
		t.Error("token should be masked")
	}
	if s.Telegram.Token[:4] != testToken[:4] {
		t.Errorf("expected prefix preserved, got %q", s.Telegram.Token)
	}
	if cfg.Telegram.Token != testToken {
		t.Error("original config must not be modified")
	}
}

func TestMaskString_Short(t *testing.T) {
	if got := maskString("abc"); got != "***" {
		t.Errorf("expected ***, got %q", got)
	}
}
