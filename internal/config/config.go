// Package config loads the adapter's runtime configuration from the
// environment (prefix INFORMDAV_).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"informdav/internal/backend"
	"informdav/internal/upstream"
)

// Runtime is the fully validated configuration the server starts from.
type Runtime struct {
	ListenAddr string

	Upstream upstream.Config
	Backend  backend.Config

	CalDAVPrefix   string
	CalDAVUsername string
	CalDAVPassword string

	MetricsEnabled bool
	LogLevel       string
}

// Load reads configuration from INFORMDAV_* environment variables,
// applies defaults, and validates the required settings.
func Load() (*Runtime, error) {
	v := viper.New()
	v.SetEnvPrefix("INFORMDAV")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("caldav_prefix", "/caldav/")
	v.SetDefault("timezone", "Europe/Berlin")
	v.SetDefault("sync_weeks", 6)
	v.SetDefault("list_limit", 1000)
	v.SetDefault("resolve_concurrency", 4)
	v.SetDefault("upstream_timeout_seconds", 30)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("log_level", "info")

	bind := []string{
		"listen_addr", "caldav_prefix", "timezone", "sync_weeks", "list_limit",
		"resolve_concurrency", "fail_fast_resolve", "upstream_timeout_seconds",
		"metrics_enabled", "log_level",
		"upstream_base_url", "upstream_client_id", "upstream_client_secret",
		"upstream_license", "upstream_username", "upstream_password",
		"owner_key", "caldav_username", "caldav_password",
	}
	for _, key := range bind {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	var missing []string
	for _, key := range []string{"upstream_base_url", "upstream_username", "upstream_password", "owner_key"} {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, "INFORMDAV_"+strings.ToUpper(key))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	zone, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return nil, fmt.Errorf("invalid INFORMDAV_TIMEZONE %q: %w", v.GetString("timezone"), err)
	}

	prefix := v.GetString("caldav_prefix")
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	ownerKey := v.GetString("owner_key")

	timeout := v.GetInt("upstream_timeout_seconds")
	if timeout <= 0 {
		timeout = 30
	}

	return &Runtime{
		ListenAddr: v.GetString("listen_addr"),
		Upstream: upstream.Config{
			BaseURL:      strings.TrimSuffix(v.GetString("upstream_base_url"), "/"),
			ClientID:     v.GetString("upstream_client_id"),
			ClientSecret: v.GetString("upstream_client_secret"),
			License:      v.GetString("upstream_license"),
			Username:     v.GetString("upstream_username"),
			Password:     v.GetString("upstream_password"),
			Timeout:      time.Duration(timeout) * time.Second,
		},
		Backend: backend.Config{
			Zone:               zone,
			OwnerKey:           ownerKey,
			SyncWeeks:          v.GetInt("sync_weeks"),
			CollectionPath:     prefix + "calendars/" + ownerKey + "/",
			ListLimit:          v.GetInt("list_limit"),
			ResolveConcurrency: v.GetInt("resolve_concurrency"),
			FailFastResolve:    v.GetBool("fail_fast_resolve"),
		},
		CalDAVPrefix:   prefix,
		CalDAVUsername: v.GetString("caldav_username"),
		CalDAVPassword: v.GetString("caldav_password"),
		MetricsEnabled: v.GetBool("metrics_enabled"),
		LogLevel:       v.GetString("log_level"),
	}, nil
}
