package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "dev", cfg.Version)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 90*24*time.Hour, cfg.Retention)
	assert.False(t, cfg.Gateway.Configured())
	assert.False(t, cfg.Email.Configured())
}

func TestLoad_GatewayConfigured(t *testing.T) {
	t.Setenv("GATEWAY_BASE_URL", "https://gateway.example.com/")
	t.Setenv("GATEWAY_TOKEN", "secret")
	t.Setenv("GATEWAY_TIMEOUT_SECONDS", "30")

	cfg := Load()

	assert.True(t, cfg.Gateway.Configured())
	assert.Equal(t, "https://gateway.example.com", cfg.Gateway.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Gateway.Timeout)
}

func TestLoad_EnabledTasks(t *testing.T) {
	t.Setenv("ENABLED_TASKS", "seo_health, thin_content,broken_links")

	cfg := Load()

	assert.Equal(t, []string{"seo_health", "thin_content", "broken_links"}, cfg.Tasks.Enabled)
	assert.True(t, cfg.Tasks.IsEnabled("thin_content"))
	assert.False(t, cfg.Tasks.IsEnabled("stale_drafts"))
}

func TestLoad_IntervalOverrides(t *testing.T) {
	t.Setenv("TASK_INTERVALS", "seo_health=3600,thin_content=86400,bad=oops,=5")

	cfg := Load()

	assert.Equal(t, time.Hour, cfg.Tasks.Intervals["seo_health"])
	assert.Equal(t, 24*time.Hour, cfg.Tasks.Intervals["thin_content"])
	assert.NotContains(t, cfg.Tasks.Intervals, "bad")
	assert.Len(t, cfg.Tasks.Intervals, 2)
}

func TestGetenvDuration_Invalid(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT_SECONDS", "-5")

	cfg := Load()

	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout)
}
