package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("INFORMDAV_UPSTREAM_BASE_URL", "https://api.example.test/v1")
	t.Setenv("INFORMDAV_UPSTREAM_USERNAME", "svc-user")
	t.Setenv("INFORMDAV_UPSTREAM_PASSWORD", "svc-pass")
	t.Setenv("INFORMDAV_OWNER_KEY", "owner-1")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "/caldav/", cfg.CalDAVPrefix)
	assert.Equal(t, "/caldav/calendars/owner-1/", cfg.Backend.CollectionPath)
	assert.Equal(t, 6, cfg.Backend.SyncWeeks)
	assert.Equal(t, "Europe/Berlin", cfg.Backend.Zone.String())
	assert.Equal(t, 30*time.Second, cfg.Upstream.Timeout)
	assert.True(t, cfg.MetricsEnabled)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("INFORMDAV_UPSTREAM_BASE_URL", "https://api.example.test/v1")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INFORMDAV_OWNER_KEY")
}

func TestLoadNormalizesValues(t *testing.T) {
	setRequired(t)
	t.Setenv("INFORMDAV_UPSTREAM_BASE_URL", "https://api.example.test/v1/")
	t.Setenv("INFORMDAV_CALDAV_PREFIX", "dav")
	t.Setenv("INFORMDAV_TIMEZONE", "America/New_York")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.test/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, "/dav/", cfg.CalDAVPrefix)
	assert.Equal(t, "America/New_York", cfg.Backend.Zone.String())
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	setRequired(t)
	t.Setenv("INFORMDAV_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INFORMDAV_TIMEZONE")
}
