package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvInitTimeout, EnvRunTimeout, EnvSaveDir, EnvLogLevel, EnvPort} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.InitTimeout != DefaultInitTimeout {
		t.Errorf("InitTimeout = %v, want %v", cfg.InitTimeout, DefaultInitTimeout)
	}
	if cfg.RunTimeout != DefaultRunTimeout {
		t.Errorf("RunTimeout = %v, want %v", cfg.RunTimeout, DefaultRunTimeout)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	os.Setenv(EnvInitTimeout, "0.5")
	os.Setenv(EnvRunTimeout, "1.5")
	os.Setenv(EnvSaveDir, "/tmp/knd-zones")
	os.Setenv(EnvLogLevel, "debug")
	os.Setenv(EnvPort, "9000")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.InitTimeout != 500*time.Millisecond {
		t.Errorf("InitTimeout = %v, want 500ms", cfg.InitTimeout)
	}
	if cfg.RunTimeout != 1500*time.Millisecond {
		t.Errorf("RunTimeout = %v, want 1.5s", cfg.RunTimeout)
	}
	if cfg.SaveDir != "/tmp/knd-zones" {
		t.Errorf("SaveDir = %q", cfg.SaveDir)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
}

func TestFromEnvBadValueReturnsError(t *testing.T) {
	clearEnv(t)
	os.Setenv(EnvInitTimeout, "not-a-number")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for malformed KND_INITTIMEOUT")
	}
}
