// Package config loads fleetctl's runtime configuration from environment
// variables, including the static discovery override tables and the global
// schedule window.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// NodePoolDefault is the authoritative (desired, min, max) sizing for a
// node pool, keyed by hostname in Config.NodePoolDefaults.
type NodePoolDefault struct {
	Name    string `json:"name"`
	Desired int32  `json:"desired"`
	Min     int32  `json:"min"`
	Max     int32  `json:"max"`
}

// GlobalSchedule is the single cron-like schedule shared by every app with
// ScheduleRecord.Enabled == true. Times and weekdays are never stored per
// app; only the enabled flag is.
type GlobalSchedule struct {
	Timezone        string `env:"TIMEZONE" envDefault:"UTC"`
	StartTime       string `env:"START_TIME" envDefault:"09:00"`
	StopTime        string `env:"STOP_TIME" envDefault:"19:00"`
	WeekdaysStart   []int  `env:"WEEKDAYS_START" envDefault:"1,2,3,4,5" envSeparator:","`
	WeekdaysStop    []int  `env:"WEEKDAYS_STOP" envDefault:"1,2,3,4,5" envSeparator:","`
	WeekendShutdown bool   `env:"WEEKEND_SHUTDOWN" envDefault:"true"`
}

// Config holds all runtime configuration for fleetctl.
type Config struct {
	Mode string `env:"APP_MODE" envDefault:"api"`

	Host string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"APP_PORT" envDefault:"8080"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:"postgres://localhost:5432/fleetctl?sslmode=disable"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// AWS / cluster identity.
	AWSRegion   string `env:"AWS_REGION" envDefault:"us-east-1"`
	ClusterName string `env:"CLUSTER_NAME" envDefault:"default"`

	// KubeconfigPath selects an explicit kubeconfig; empty means in-cluster.
	KubeconfigPath string `env:"KUBECONFIG_PATH"`

	// Tag keys discovery matches on VM instances.
	TagAppNameKey   string `env:"TAG_APP_NAME_KEY" envDefault:"AppName"`
	TagComponentKey string `env:"TAG_COMPONENT_KEY" envDefault:"Component"`
	TagSharedKey    string `env:"TAG_SHARED_KEY" envDefault:"Shared"`

	// Background loop periods.
	DiscoveryInterval time.Duration `env:"DISCOVERY_INTERVAL" envDefault:"2h"`
	HealthInterval    time.Duration `env:"HEALTH_INTERVAL" envDefault:"5m"`
	SchedulerInterval time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"5m"`

	// Probe timeouts.
	HTTPProbeTimeout     time.Duration `env:"HTTP_PROBE_TIMEOUT" envDefault:"5s"`
	QuickStatusTimeout   time.Duration `env:"QUICK_STATUS_TIMEOUT" envDefault:"3s"`
	AggregatorTimeout    time.Duration `env:"AGGREGATOR_TIMEOUT" envDefault:"8s"`
	DBStartPollTimeout   time.Duration `env:"DB_START_POLL_TIMEOUT" envDefault:"300s"`
	NodePoolScaleTimeout time.Duration `env:"NODE_POOL_SCALE_TIMEOUT" envDefault:"600s"`
	DBStartPollInterval  time.Duration `env:"DB_START_POLL_INTERVAL" envDefault:"10s"`
	NodePoolPollInterval time.Duration `env:"NODE_POOL_POLL_INTERVAL" envDefault:"15s"`

	// Lease tuning.
	LeaseTTL        time.Duration `env:"LEASE_TTL" envDefault:"60s"`
	LeaseMaxRetries int           `env:"LEASE_MAX_RETRIES" envDefault:"3"`

	// Operation log retention.
	OperationLogTTL time.Duration `env:"OPERATION_LOG_TTL" envDefault:"720h"`

	// Auth.
	SessionSecret     string        `env:"SESSION_SECRET"`
	SessionMaxAge     time.Duration `env:"SESSION_MAX_AGE" envDefault:"720h"`
	APIKey            string        `env:"API_KEY"`
	AdminUsername     string        `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
	OIDCIssuerURL     string        `env:"OIDC_ISSUER_URL"`
	OIDCClientID      string        `env:"OIDC_CLIENT_ID"`
	OIDCClientSecret  string        `env:"OIDC_CLIENT_SECRET"`
	OIDCRedirectURL   string        `env:"OIDC_REDIRECT_URL"`

	// Slack operator notifications (optional).
	SlackBotToken string `env:"SLACK_BOT_TOKEN"`
	SlackChannel  string `env:"SLACK_ALERT_CHANNEL"`

	GlobalSchedule GlobalSchedule `envPrefix:"SCHEDULE_"`

	// NamespaceOverridesRaw is the hostname -> authoritative namespace
	// table read from NAMESPACE_OVERRIDES ("host=ns,host2=ns2");
	// NamespaceOverrides parses it.
	NamespaceOverridesRaw string `env:"NAMESPACE_OVERRIDES"`

	// NodePoolDefaultsRaw is "host=name:desired:min:max,..."; "host=none"
	// marks an app as having no node pool.
	NodePoolDefaultsRaw string `env:"NODE_POOL_DEFAULTS"`
}

// NamespaceOverrides parses NamespaceOverridesRaw ("host=ns,host2=ns2")
// into the authoritative hostname -> namespace table discovery applies
// ahead of whatever namespace the ingress itself reports.
func (c *Config) NamespaceOverrides() map[string]string {
	out := map[string]string{}
	for _, pair := range splitNonEmpty(c.NamespaceOverridesRaw, ",") {
		host, ns, ok := strings.Cut(pair, "=")
		if !ok || host == "" || ns == "" {
			continue
		}
		out[host] = ns
	}
	return out
}

// NodePoolOverride wraps a NodePoolDefault and distinguishes an explicit
// "no pool" marker from an absent entry.
type NodePoolOverride struct {
	NoPool  bool
	Default NodePoolDefault
}

// NodePoolDefaults parses NodePoolDefaultsRaw ("host=name:desired:min:max,
// host2=none") into the authoritative per-hostname node-pool table. A
// malformed entry is skipped rather than failing config load; discovery
// then records no node pool for that host.
func (c *Config) NodePoolDefaults() map[string]NodePoolOverride {
	out := map[string]NodePoolOverride{}
	for _, pair := range splitNonEmpty(c.NodePoolDefaultsRaw, ",") {
		host, spec, ok := strings.Cut(pair, "=")
		if !ok || host == "" {
			continue
		}
		if spec == "none" {
			out[host] = NodePoolOverride{NoPool: true}
			continue
		}
		fields := strings.Split(spec, ":")
		if len(fields) != 4 {
			continue
		}
		desired, err1 := strconv.Atoi(fields[1])
		min, err2 := strconv.Atoi(fields[2])
		max, err3 := strconv.Atoi(fields[3])
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		out[host] = NodePoolOverride{Default: NodePoolDefault{
			Name:    fields[0],
			Desired: int32(desired),
			Min:     int32(min),
			Max:     int32(max),
		}}
	}
	return out
}

func splitNonEmpty(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
