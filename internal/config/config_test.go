package config

import (
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	setCoreEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.MetricsNamespace != "ringcast" {
		t.Fatalf("MetricsNamespace = %q, want %q", cfg.MetricsNamespace, "ringcast")
	}
	if cfg.MaxConcurrentCalls != 100 {
		t.Fatalf("MaxConcurrentCalls = %d, want 100", cfg.MaxConcurrentCalls)
	}
	if cfg.SchedulerTick != 60*time.Second {
		t.Fatalf("SchedulerTick = %v, want 60s", cfg.SchedulerTick)
	}
	if cfg.DevelopmentMode {
		t.Fatalf("DevelopmentMode = true, want false by default")
	}
}

func TestLoadRequiresAPIKey(t *testing.T) {
	setCoreEnv(t)
	t.Setenv("OPENAI_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should fail without OPENAI_API_KEY")
	}
}

func TestLoadTrimsPublicURLSlash(t *testing.T) {
	setCoreEnv(t)
	t.Setenv("PUBLIC_URL", "https://voice.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PublicURL != "https://voice.example.com" {
		t.Fatalf("PublicURL = %q, trailing slash should be trimmed", cfg.PublicURL)
	}
}

func TestLoadRejectsBarePublicURL(t *testing.T) {
	setCoreEnv(t)
	t.Setenv("PUBLIC_URL", "voice.example.com")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject PUBLIC_URL without scheme")
	}
}

func TestLoadRejectsShortSchedulerTick(t *testing.T) {
	setCoreEnv(t)
	t.Setenv("SCHEDULER_TICK", "1s")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() should reject SCHEDULER_TICK below 5s")
	}
}

func setCoreEnv(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TWILIO_ACCOUNT_SID", "ACxxxxxxxx")
	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("TWILIO_PHONE_NUMBER", "+15550006000")
	t.Setenv("PUBLIC_URL", "https://voice.example.com")
	t.Setenv("SECRET_KEY", "secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/ringcast")
	t.Setenv("APP_BIND_ADDR", "")
	t.Setenv("APP_METRICS_NAMESPACE", "")
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "")
	t.Setenv("SCHEDULER_TICK", "")
	t.Setenv("MAX_CONCURRENT_CALLS", "")
	t.Setenv("DEVELOPMENT_MODE", "")
	t.Setenv("OPENAI_REALTIME_URL", "")
	t.Setenv("TWILIO_API_BASE_URL", "")
}
