// Package config provides CLI configuration loaded from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/opcatalog/pkg/apiurl"
	"github.com/morezero/opcatalog/pkg/endpoints"
)

const logPrefix = "config:LoadConfig"

// Config holds opcatalog configuration.
type Config struct {
	// Backend serving the operation catalogs.
	Origin       string `envconfig:"OPCATALOG_ORIGIN" default:"http://127.0.0.1:5000"`
	ServicesPath string `envconfig:"OPCATALOG_SERVICES_PATH" default:"/api/services/"`
	WebPath      string `envconfig:"OPCATALOG_WEB_PATH" default:"/api/web/"`
	ScriptsPath  string `envconfig:"OPCATALOG_SCRIPTS_PATH" default:"/api/scripts/"`

	RequestTimeout time.Duration `envconfig:"OPCATALOG_REQUEST_TIMEOUT" default:"30s"`
	DownloadDir    string        `envconfig:"OPCATALOG_DOWNLOAD_DIR" default:"."`
	EndpointsFile  string        `envconfig:"OPCATALOG_ENDPOINTS_FILE"`

	// Catalog listing cache (0 = disabled). REDIS_URL switches it to Redis.
	CacheTTL time.Duration `envconfig:"OPCATALOG_CACHE_TTL" default:"0s"`
	RedisURL string        `envconfig:"REDIS_URL"`

	// COMMS: publish invocation events when COMMSURL is set.
	COMMSURL     string `envconfig:"COMMS_URL"`
	COMMSName    string `envconfig:"SERVICE_NAME" default:"opcatalog"`
	EventSubject string `envconfig:"OPCATALOG_EVENT_SUBJECT"`
	// BridgeSubject receives bridge requests (empty = opcatalog.invoke).
	BridgeSubject string `envconfig:"OPCATALOG_BRIDGE_SUBJECT"`

	// Client-side throttle (0 = unlimited).
	RateLimit float64 `envconfig:"OPCATALOG_RATE_LIMIT" default:"0"`
	RateBurst int     `envconfig:"OPCATALOG_RATE_BURST" default:"1"`

	// Prometheus endpoint, e.g. "127.0.0.1:9100". Empty disables it.
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the configuration before any client is built.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s - OPCATALOG_ORIGIN must be an absolute url, got %q", logPrefix, c.Origin)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - OPCATALOG_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("%s - OPCATALOG_CACHE_TTL must not be negative", logPrefix)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%s - OPCATALOG_RATE_LIMIT must not be negative", logPrefix)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("%s - OPCATALOG_RATE_BURST must be at least 1", logPrefix)
	}
	if _, err := c.Prefixes(); err != nil {
		return fmt.Errorf("%s - invalid catalog paths: %w", logPrefix, err)
	}
	return nil
}

// Prefixes builds the three catalog roots.
func (c *Config) Prefixes() (endpoints.Prefixes, error) {
	specs := []struct{ name, path string }{
		{apiurl.CatalogServices, c.ServicesPath},
		{apiurl.CatalogWeb, c.WebPath},
		{apiurl.CatalogScripts, c.ScriptsPath},
	}
	ps := make([]apiurl.Prefix, 0, len(specs))
	for _, s := range specs {
		p, err := apiurl.FromOrigin(s.name, c.Origin, s.path)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return endpoints.NewPrefixes(ps...), nil
}

// SlogLevel maps LogLevel to a slog level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
