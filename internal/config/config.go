package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/assetpulse/assetpulse/internal/reading"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort      = 8080
	DefaultReportTTL     = 15 * time.Minute
	DefaultAuthHeader    = "x-api-key"
	DefaultProbeInterval = 30 * time.Second
)

// DefaultSeverityOrder is the label ordering used when the config does not
// provide one, least severe first.
var DefaultSeverityOrder = []string{"healthy", "degraded", "critical"}

// Config is the top-level service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Engine  EngineConfig  `yaml:"engine"`
	Models  []ModelConfig `yaml:"models"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	History HistoryConfig `yaml:"history"`
	Ingest  IngestConfig  `yaml:"ingest"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, WebSocket hub and /metrics listen on.
	HTTPPort int `yaml:"http_port"`

	// Auth configures API key authentication for incoming requests.
	Auth ServerAuthConfig `yaml:"auth"`

	// ReportTTL is how long completed reports stay queryable in memory.
	ReportTTL time.Duration `yaml:"report_ttl"`
}

// ServerAuthConfig configures REST API authentication.
type ServerAuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header carrying the key. Defaults to x-api-key.
	Header string `yaml:"header"`

	// KeyEnv names the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key resolved from the environment.
func (a ServerAuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name or the default.
func (a ServerAuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return DefaultAuthHeader
	}
	return a.Header
}

// EngineConfig tunes the aggregation engine.
type EngineConfig struct {
	// Workers bounds the per-reading inference pool. 0 means one per core.
	Workers int `yaml:"workers"`

	// Severity fixes how channel verdicts roll up into the overall status.
	// Reloadable at runtime via config.Watch.
	Severity SeverityConfig `yaml:"severity"`
}

// SeverityConfig is the explicit total order over channel labels plus the
// optional numeric bands that map a numerical channel's mean to a label.
type SeverityConfig struct {
	// Order lists labels least severe first. A label a model emits that is
	// not listed here ranks above everything listed.
	Order []string `yaml:"order"`

	// Bands maps a numerical channel to ordered score bands. A mean below a
	// band's "below" value takes that band's label; the last band may omit
	// "below" to catch everything else. Channels without bands do not feed
	// the overall status.
	Bands map[string][]BandConfig `yaml:"bands"`
}

// BandConfig is one numeric score band.
type BandConfig struct {
	Label string   `yaml:"label"`
	Below *float64 `yaml:"below"`
}

// ModelConfig declares the model serving one channel.
type ModelConfig struct {
	// Channel is one of: temperature | vibration | magnetic_flux |
	// audible_sound | ultra_sound.
	Channel string `yaml:"channel"`

	// Type is one of: file | remote.
	Type string `yaml:"type"`

	// Path is the model artifact file — used when Type == "file".
	Path string `yaml:"path"`

	// Remote fields — used when Type == "remote".
	// Endpoint is the predict URL; Output declares the result type
	// (categorical | numerical); MetricsURL optionally points at the
	// runtime's Prometheus endpoint for availability probing.
	Endpoint   string `yaml:"endpoint"`
	Output     string `yaml:"output"`
	MetricsURL string `yaml:"metrics_url"`

	// Features overrides the ordered reading fields fed to this model.
	// Empty means the channel's default field grouping.
	Features []string `yaml:"features"`

	// Auth and TLS configure the HTTP client for remote models.
	Auth AuthConfig `yaml:"auth"`
	TLS  TLSConfig  `yaml:"tls"`
}

// AuthConfig specifies how the service authenticates to a remote model runtime.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields — used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields — used when Mode == "apikey".
	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	// Bearer token — used when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Basic auth — used when Mode == "basic". The password comes from the
	// environment, never from the file.
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds TLS dial options for remote model runtimes.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Development only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines a threshold-based alert condition over completed reports.
type AlertRule struct {
	// Name is the human-readable alert identifier.
	Name string `yaml:"name"`

	// Condition is an expression like "overall == critical",
	// "channel:vibration == critical" or "null_rate:vibration > 50".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv names the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// HistoryConfig configures the optional report persistence backend.
type HistoryConfig struct {
	// Backend selects the implementation: clickhouse. Empty disables history.
	Backend string `yaml:"backend"`

	Addr        string `yaml:"addr"`
	Database    string `yaml:"database"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Password returns the database password resolved from the environment.
func (h HistoryConfig) Password() string {
	if h.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(h.PasswordEnv)
}

// IngestConfig configures optional ingestion paths besides the HTTP API.
type IngestConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig subscribes the service to a readings topic and publishes each
// report to a reports topic. An empty broker disables MQTT ingestion.
type MQTTConfig struct {
	Broker        string `yaml:"broker"`
	ClientID      string `yaml:"client_id"`
	ReadingsTopic string `yaml:"readings_topic"`
	ReportsTopic  string `yaml:"reports_topic"`
	Username      string `yaml:"username"`
	PasswordEnv   string `yaml:"password_env"`
}

// Password returns the broker password resolved from the environment.
func (m MQTTConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:  DefaultHTTPPort,
			ReportTTL: DefaultReportTTL,
		},
		Engine: EngineConfig{
			Severity: SeverityConfig{
				Order: append([]string(nil), DefaultSeverityOrder...),
			},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", cfg.Server.HTTPPort)
	}
	if cfg.Server.ReportTTL <= 0 {
		return fmt.Errorf("server.report_ttl must be positive")
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth: unknown mode %q", cfg.Server.Auth.Mode)
	}

	if len(cfg.Engine.Severity.Order) == 0 {
		return fmt.Errorf("engine.severity.order cannot be empty")
	}
	seen := make(map[string]bool, len(cfg.Engine.Severity.Order))
	for _, label := range cfg.Engine.Severity.Order {
		if label == "" {
			return fmt.Errorf("engine.severity.order: empty label")
		}
		if seen[label] {
			return fmt.Errorf("engine.severity.order: duplicate label %q", label)
		}
		seen[label] = true
	}

	channels := make(map[string]bool, len(reading.Channels))
	for _, ch := range reading.Channels {
		channels[ch] = true
	}
	haveModel := make(map[string]bool, len(cfg.Models))
	for i, mc := range cfg.Models {
		if !channels[mc.Channel] {
			return fmt.Errorf("models[%d]: unknown channel %q", i, mc.Channel)
		}
		if haveModel[mc.Channel] {
			return fmt.Errorf("models[%d]: duplicate model for channel %q", i, mc.Channel)
		}
		haveModel[mc.Channel] = true

		switch mc.Type {
		case "file":
			if mc.Path == "" {
				return fmt.Errorf("models[%d] %q: path is required for file models", i, mc.Channel)
			}
		case "remote":
			if mc.Endpoint == "" {
				return fmt.Errorf("models[%d] %q: endpoint is required for remote models", i, mc.Channel)
			}
			if mc.Output != "categorical" && mc.Output != "numerical" {
				return fmt.Errorf("models[%d] %q: output must be categorical or numerical", i, mc.Channel)
			}
		default:
			return fmt.Errorf("models[%d] %q: unknown type %q", i, mc.Channel, mc.Type)
		}

		switch mc.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("models[%d] %q: unknown auth mode %q", i, mc.Channel, mc.Auth.Mode)
		}

		for _, f := range mc.Features {
			if !validField(f) {
				return fmt.Errorf("models[%d] %q: unknown feature field %q", i, mc.Channel, f)
			}
		}
	}

	for ch := range cfg.Engine.Severity.Bands {
		if !channels[ch] {
			return fmt.Errorf("engine.severity.bands: unknown channel %q", ch)
		}
	}

	for i, rule := range cfg.Alerts.Rules {
		if rule.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if rule.Condition == "" {
			return fmt.Errorf("alerts.rules[%d] %q: condition is required", i, rule.Name)
		}
		switch rule.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("alerts.rules[%d] %q: unknown severity %q", i, rule.Name, rule.Severity)
		}
	}
	for i, wh := range cfg.Alerts.Webhooks {
		switch wh.Type {
		case "teams", "slack", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}

	switch cfg.History.Backend {
	case "":
	case "clickhouse":
		if cfg.History.Addr == "" {
			return fmt.Errorf("history: addr is required for clickhouse backend")
		}
	default:
		return fmt.Errorf("history: unknown backend %q", cfg.History.Backend)
	}

	if cfg.Ingest.MQTT.Broker != "" && cfg.Ingest.MQTT.ReadingsTopic == "" {
		return fmt.Errorf("ingest.mqtt: readings_topic is required when broker is set")
	}

	return nil
}

func validField(f string) bool {
	for _, known := range reading.Fields {
		if f == known {
			return true
		}
	}
	return false
}
