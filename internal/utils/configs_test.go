package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewConfigManagerReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs")
	content := "# arcade\napi_port = 5050\nfree_play_limit=3\n\nempty =\nmalformed line\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cm, err := NewConfigManager(path)
	if err != nil {
		t.Fatalf("NewConfigManager failed: %v", err)
	}
	if cm.Path() != path {
		t.Errorf("Expected path %s, got %s", path, cm.Path())
	}
	if got := cm.GetConfigWithDefault("api_port", ""); got != "5050" {
		t.Errorf("Expected api_port 5050, got %q", got)
	}
	if got := cm.GetConfigWithDefault("empty", "fallback"); got != "fallback" {
		t.Errorf("Expected empty value to fall back, got %q", got)
	}
	if _, ok := cm.GetConfig("malformed line"); ok {
		t.Error("Expected line without '=' to be skipped")
	}
}

func TestNewConfigManagerMissingFile(t *testing.T) {
	if _, err := NewConfigManager(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestSeedDefaultConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")
	path, err := seedDefaultConfig(dir)
	if err != nil {
		t.Fatalf("seedDefaultConfig failed: %v", err)
	}

	cm, err := NewConfigManager(path)
	if err != nil {
		t.Fatalf("NewConfigManager failed: %v", err)
	}
	if got := cm.GetConfigWithDefault("pid_path", ""); got != "gasless-arcade.pid" {
		t.Errorf("Expected embedded default pid_path, got %q", got)
	}

	// An existing file is left alone.
	if err := os.WriteFile(path, []byte("api_port=1\n"), 0644); err != nil {
		t.Fatalf("Failed to overwrite config: %v", err)
	}
	if _, err := seedDefaultConfig(dir); err != nil {
		t.Fatalf("seedDefaultConfig failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "api_port=1\n" {
		t.Errorf("Expected existing config to be kept, got %q", data)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GAME_FREE_PLAYS", " 5 ")
	t.Setenv("MAX_PAYMENT_PER_TX", "")

	cm := NewConfigManagerFromValues(Config{"free_play_limit": "3", "max_payment_per_tx": "0.05"})
	cm.applyEnv()

	if got := cm.GetConfigInt("free_play_limit", 0, 0, 100); got != 5 {
		t.Errorf("Expected env override 5, got %d", got)
	}
	if got := cm.GetConfigWithDefault("max_payment_per_tx", ""); got != "0.05" {
		t.Errorf("Expected blank env value to be ignored, got %q", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("AI_MODE=advisory\n"), 0644); err != nil {
		t.Fatalf("Failed to write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("AI_MODE") })

	cm := NewConfigManagerFromValues(Config{"ai_mode": "rules"})
	if err := cm.LoadDotEnv(envPath, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := cm.GetConfigWithDefault("ai_mode", ""); got != "advisory" {
		t.Errorf("Expected ai_mode from .env, got %q", got)
	}
}

func TestTypedGetters(t *testing.T) {
	var warnings int
	prev := configWarn
	configWarn = func(string, ...interface{}) { warnings++ }
	t.Cleanup(func() { configWarn = prev })

	cm := NewConfigManagerFromValues(Config{
		"port":    "70000",
		"pool":    "8",
		"bad":     "eight",
		"enabled": "Yes",
		"flag":    "maybe",
		"ports":   "5001, ,5002,",
	})

	if got := cm.GetConfigInt("port", 5000, 1, 65535); got != 5000 {
		t.Errorf("Expected out of range value to use default, got %d", got)
	}
	if got := cm.GetConfigInt("pool", 4, 1, 64); got != 8 {
		t.Errorf("Expected 8, got %d", got)
	}
	if got := cm.GetConfigInt64("bad", 2, 0, 10); got != 2 {
		t.Errorf("Expected default for non-integer, got %d", got)
	}
	if got := cm.GetConfigInt("missing", 7, 0, 10); got != 7 {
		t.Errorf("Expected default for missing key, got %d", got)
	}
	if !cm.GetConfigBool("enabled", false) {
		t.Error("Expected Yes to parse as true")
	}
	if cm.GetConfigBool("flag", false) {
		t.Error("Expected invalid boolean to use default")
	}
	if warnings != 3 {
		t.Errorf("Expected 3 warnings, got %d", warnings)
	}

	ports := cm.GetConfigSlice("ports", nil)
	if len(ports) != 2 || ports[0] != "5001" || ports[1] != "5002" {
		t.Errorf("Unexpected slice %v", ports)
	}
	if def := cm.GetConfigSlice("missing", []string{"a"}); len(def) != 1 {
		t.Errorf("Expected default slice, got %v", def)
	}

	cm.SetConfig("pool", 16)
	if got := cm.GetConfigInt("pool", 4, 1, 64); got != 16 {
		t.Errorf("Expected SetConfig value 16, got %d", got)
	}
}
