// Package config loads pipeline configuration from the environment.
// The pipeline consumes these values but does not own them; the host
// platform decides what is enabled and where deliveries go.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Gateway struct {
	BaseURL string        // e.g. https://gateway.example.com
	Token   string        // bearer token for the Authorization header
	Timeout time.Duration // per-attempt HTTP timeout
}

// Configured reports whether deliveries can be attempted at all. An
// unconfigured gateway short-circuits dispatch without logging a failure.
func (g Gateway) Configured() bool {
	return g.BaseURL != "" && g.Token != ""
}

type Tasks struct {
	Enabled   []string                 // task names allowed to run
	Intervals map[string]time.Duration // per-task interval overrides
}

func (t Tasks) IsEnabled(name string) bool {
	for _, n := range t.Enabled {
		if n == name {
			return true
		}
	}

	return false
}

type Email struct {
	APIKey      string
	FromName    string
	FromAddress string
	Recipient   string // operator address for critical-finding alerts
}

func (e Email) Configured() bool {
	return e.APIKey != "" && e.Recipient != ""
}

type Config struct {
	Version     string // software version, part of the schedule fingerprint
	RedisAddr   string
	PostgresDSN string
	HTTPPort    string
	Gateway     Gateway
	Tasks       Tasks
	Email       Email
	Retention   time.Duration // audit ledger retention window
}

func Load() Config {
	return Config{
		Version:     getenv("OUTPOST_VERSION", "dev"),
		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		HTTPPort:    getenv("PORT", "8080"),
		Gateway: Gateway{
			BaseURL: strings.TrimRight(os.Getenv("GATEWAY_BASE_URL"), "/"),
			Token:   os.Getenv("GATEWAY_TOKEN"),
			Timeout: getenvDuration("GATEWAY_TIMEOUT_SECONDS", 10*time.Second),
		},
		Tasks: Tasks{
			Enabled:   getenvList("ENABLED_TASKS", nil),
			Intervals: getenvIntervals("TASK_INTERVALS"),
		},
		Email: Email{
			APIKey:      os.Getenv("EMAIL_API_KEY"),
			FromName:    getenv("FROM_NAME", "Outpost"),
			FromAddress: os.Getenv("FROM_ADDRESS"),
			Recipient:   os.Getenv("ALERT_RECIPIENT"),
		},
		Retention: getenvDuration("AUDIT_RETENTION_SECONDS", 90*24*time.Hour),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	seconds, err := strconv.Atoi(v)
	if err != nil || seconds <= 0 {
		return def
	}

	return time.Duration(seconds) * time.Second
}

func getenvList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}

	parts := strings.Split(v, ",")
	list := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			list = append(list, trimmed)
		}
	}

	return list
}

// getenvIntervals parses "task=seconds" pairs, e.g.
// "seo_health=3600,thin_content=86400".
func getenvIntervals(key string) map[string]time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	intervals := make(map[string]time.Duration)
	for _, pair := range strings.Split(v, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}

		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			continue
		}

		intervals[name] = time.Duration(seconds) * time.Second
	}

	return intervals
}
