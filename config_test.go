package kto

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.toml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DefaultIntervalSecs != 900 {
		t.Errorf("DefaultIntervalSecs = %d, want 900", cfg.DefaultIntervalSecs)
	}
	if cfg.DefaultNotify != "none" {
		t.Errorf("DefaultNotify = %q, want none", cfg.DefaultNotify)
	}
}

func TestLoadConfig_EmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DefaultIntervalSecs != 900 {
		t.Errorf("DefaultIntervalSecs = %d, want 900", cfg.DefaultIntervalSecs)
	}
}

func TestLoadConfig_ParsesValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
default_interval_secs = 120
default_notify = "command:/usr/bin/notify-send"

[rate_limits]
"example.com" = 0.5

[quiet_hours]
start = "22:00"
end = "07:00"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DefaultIntervalSecs != 120 {
		t.Errorf("DefaultIntervalSecs = %d, want 120", cfg.DefaultIntervalSecs)
	}
	if cfg.DefaultNotify != "command:/usr/bin/notify-send" {
		t.Errorf("DefaultNotify = %q", cfg.DefaultNotify)
	}
	if cfg.RateLimits["example.com"] != 0.5 {
		t.Errorf("RateLimits[example.com] = %v, want 0.5", cfg.RateLimits["example.com"])
	}
	if cfg.QuietHours.Start != "22:00" || cfg.QuietHours.End != "07:00" {
		t.Errorf("QuietHours = %+v", cfg.QuietHours)
	}
}

func TestLoadConfig_MalformedFileIsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("this is not = [valid toml"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfig(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadConfig_RejectsNonPositiveInterval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("default_interval_secs = 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfig(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestLoadConfig_RejectsNonPositiveRateLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[rate_limits]\n\"example.com\" = 0\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadConfig(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestDefaultConfigPath_UnderHomeConfigDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir available")
	}
	want := filepath.Join(home, ".config", "kto", "config.toml")
	if got := DefaultConfigPath(); got != want {
		t.Errorf("DefaultConfigPath() = %q, want %q", got, want)
	}
}

func TestDefaultDBPath_HonorsEnvOverride(t *testing.T) {
	t.Setenv("KTO_DB", "/tmp/custom-kto.db")
	if got := DefaultDBPath(); got != "/tmp/custom-kto.db" {
		t.Errorf("DefaultDBPath() = %q, want /tmp/custom-kto.db", got)
	}
}
