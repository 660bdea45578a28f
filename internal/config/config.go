package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice-agent core.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	PublicURL string
	SecretKey string

	OpenAIAPIKey      string
	OpenAIRealtimeURL string

	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	TwilioAPIBaseURL  string

	DatabaseURL string

	DevelopmentMode    bool
	MaxConcurrentCalls int
	SchedulerTick      time.Duration
}

// Load reads environment variables, applies safe defaults and validates
// required keys. A missing required key aborts startup.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "ringcast"),
		PublicURL:          envTrimmed("PUBLIC_URL"),
		SecretKey:          envTrimmed("SECRET_KEY"),
		OpenAIAPIKey:       envTrimmed("OPENAI_API_KEY"),
		OpenAIRealtimeURL:  envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-12-17"),
		TwilioAccountSID:   envTrimmed("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    envTrimmed("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber:  envTrimmed("TWILIO_PHONE_NUMBER"),
		TwilioAPIBaseURL:   envOrDefault("TWILIO_API_BASE_URL", "https://api.twilio.com"),
		DatabaseURL:        envTrimmed("DATABASE_URL"),
		ShutdownTimeout:    15 * time.Second,
		MaxConcurrentCalls: 100,
		SchedulerTick:      60 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SchedulerTick, err = durationFromEnv("SCHEDULER_TICK", cfg.SchedulerTick)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrentCalls, err = intFromEnv("MAX_CONCURRENT_CALLS", cfg.MaxConcurrentCalls)
	if err != nil {
		return Config{}, err
	}
	cfg.DevelopmentMode, err = boolFromEnv("DEVELOPMENT_MODE", false)
	if err != nil {
		return Config{}, err
	}

	required := []struct {
		key string
		val string
	}{
		{"OPENAI_API_KEY", cfg.OpenAIAPIKey},
		{"TWILIO_ACCOUNT_SID", cfg.TwilioAccountSID},
		{"TWILIO_AUTH_TOKEN", cfg.TwilioAuthToken},
		{"TWILIO_PHONE_NUMBER", cfg.TwilioPhoneNumber},
		{"PUBLIC_URL", cfg.PublicURL},
		{"SECRET_KEY", cfg.SecretKey},
		{"DATABASE_URL", cfg.DatabaseURL},
	}
	for _, r := range required {
		if r.val == "" {
			return Config{}, fmt.Errorf("%s is required", r.key)
		}
	}

	if cfg.MaxConcurrentCalls <= 0 {
		return Config{}, fmt.Errorf("MAX_CONCURRENT_CALLS must be positive")
	}
	if cfg.SchedulerTick < 5*time.Second {
		return Config{}, fmt.Errorf("SCHEDULER_TICK must be at least 5s")
	}
	if !strings.HasPrefix(cfg.PublicURL, "http://") && !strings.HasPrefix(cfg.PublicURL, "https://") {
		return Config{}, fmt.Errorf("PUBLIC_URL must be an absolute http(s) URL")
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
