package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	Load()

	if Cfg.ListenAddr != ":8100" {
		t.Errorf("ListenAddr = %q", Cfg.ListenAddr)
	}
	if Cfg.BackendURL != "ws://127.0.0.1:8022" {
		t.Errorf("BackendURL = %q", Cfg.BackendURL)
	}
	if Cfg.PendingTimeout != 30*time.Second {
		t.Errorf("PendingTimeout = %v", Cfg.PendingTimeout)
	}
	if Cfg.UploadWait != 5*time.Minute {
		t.Errorf("UploadWait = %v", Cfg.UploadWait)
	}
	if Cfg.SessionRetention != 30*time.Minute {
		t.Errorf("SessionRetention = %v", Cfg.SessionRetention)
	}
	if Cfg.SessionSweepCron != "@every 10m" {
		t.Errorf("SessionSweepCron = %q", Cfg.SessionSweepCron)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("WEBTERM_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("WEBTERM_BACKEND_URL", "ws://backend:8022")
	t.Setenv("WEBTERM_PENDING_TIMEOUT", "10s")
	t.Setenv("WEBTERM_SESSION_RETENTION", "1h")

	Load()

	if Cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("ListenAddr = %q", Cfg.ListenAddr)
	}
	if Cfg.BackendURL != "ws://backend:8022" {
		t.Errorf("BackendURL = %q", Cfg.BackendURL)
	}
	if Cfg.PendingTimeout != 10*time.Second {
		t.Errorf("PendingTimeout = %v", Cfg.PendingTimeout)
	}
	if Cfg.SessionRetention != time.Hour {
		t.Errorf("SessionRetention = %v", Cfg.SessionRetention)
	}
}
