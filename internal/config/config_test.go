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
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != ":8080" {
		t.Errorf("expected default address, got %q", cfg.Address)
	}
	if cfg.Language != "ITA" {
		t.Errorf("expected default language hint, got %q", cfg.Language)
	}
	if cfg.MaxAudioSize != 50<<20 {
		t.Errorf("expected 50 MiB audio limit, got %d", cfg.MaxAudioSize)
	}
	if cfg.RequestTimeout != 2*time.Minute {
		t.Errorf("expected default timeout, got %s", cfg.RequestTimeout)
	}
	if cfg.Workers != 2 {
		t.Errorf("expected default worker count, got %d", cfg.Workers)
	}
	if cfg.SQLitePath == "" || cfg.DataDir == "" {
		t.Errorf("expected derived paths, got %q under %q", cfg.SQLitePath, cfg.DataDir)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("VOXFORM_ADDRESS", "127.0.0.1:9090")
	t.Setenv("VOXFORM_MAUI_URL", "https://maui.example.com/")
	t.Setenv("VOXFORM_LANGUAGE", "ENG")
	t.Setenv("VOXFORM_REQUEST_TIMEOUT", "30s")
	t.Setenv("VOXFORM_MAX_AUDIO_BYTES", "1048576")
	t.Setenv("VOXFORM_WORKERS", "8")
	t.Setenv("VOXFORM_S3_USE_SSL", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address != "127.0.0.1:9090" {
		t.Errorf("address override lost, got %q", cfg.Address)
	}
	if cfg.MauiBaseURL != "https://maui.example.com" {
		t.Errorf("trailing slash must be trimmed, got %q", cfg.MauiBaseURL)
	}
	if cfg.Language != "ENG" {
		t.Errorf("language override lost, got %q", cfg.Language)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("timeout override lost, got %s", cfg.RequestTimeout)
	}
	if cfg.MaxAudioSize != 1<<20 {
		t.Errorf("audio limit override lost, got %d", cfg.MaxAudioSize)
	}
	if cfg.Workers != 8 || !cfg.S3UseSSL {
		t.Errorf("numeric/bool overrides lost: %d %v", cfg.Workers, cfg.S3UseSSL)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("VOXFORM_MAX_AUDIO_BYTES", "not-a-number")
	t.Setenv("VOXFORM_REQUEST_TIMEOUT", "soon")
	t.Setenv("VOXFORM_WORKERS", "-3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxAudioSize != 50<<20 {
		t.Errorf("bad size must fall back, got %d", cfg.MaxAudioSize)
	}
	if cfg.RequestTimeout != 2*time.Minute {
		t.Errorf("bad duration must fall back, got %s", cfg.RequestTimeout)
	}
	if cfg.Workers != 2 {
		t.Errorf("non-positive workers must fall back, got %d", cfg.Workers)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	contents := "# comment line\n" +
		"VOXTEST_PLAIN=value\n" +
		"export VOXTEST_EXPORTED=exported\n" +
		"VOXTEST_QUOTED=\"quoted value\"\n" +
		"VOXTEST_PRESET=overridden\n" +
		"malformed line\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	t.Setenv("VOXTEST_PRESET", "original")
	for _, key := range []string{"VOXTEST_PLAIN", "VOXTEST_EXPORTED", "VOXTEST_QUOTED"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	LoadDotEnv(path)

	if got := os.Getenv("VOXTEST_PLAIN"); got != "value" {
		t.Errorf("plain key not loaded, got %q", got)
	}
	if got := os.Getenv("VOXTEST_EXPORTED"); got != "exported" {
		t.Errorf("export prefix not handled, got %q", got)
	}
	if got := os.Getenv("VOXTEST_QUOTED"); got != "quoted value" {
		t.Errorf("quotes not stripped, got %q", got)
	}
	if got := os.Getenv("VOXTEST_PRESET"); got != "original" {
		t.Errorf("existing value must win, got %q", got)
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	LoadDotEnv(filepath.Join(t.TempDir(), "does-not-exist"))
}
