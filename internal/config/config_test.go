package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
server:
  http_port: 9090
  report_ttl: 5m
  auth:
    mode: apikey
    key_env: ASSETPULSE_API_KEY
engine:
  workers: 4
models:
  - channel: temperature
    type: file
    path: models/temperature.yaml
  - channel: ultra_sound
    type: remote
    endpoint: "https://ml-runtime:9000/v1/predict"
    output: numerical
    metrics_url: "https://ml-runtime:9000/metrics"
    auth:
      mode: bearer
      token_env: ML_RUNTIME_TOKEN
`
	cfg := loadFromString(t, yaml)

	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("http_port: got %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.ReportTTL != 5*time.Minute {
		t.Errorf("report_ttl: got %v", cfg.Server.ReportTTL)
	}
	if cfg.Engine.Workers != 4 {
		t.Errorf("workers: got %d", cfg.Engine.Workers)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("models: got %d, want 2", len(cfg.Models))
	}
	mc := cfg.Models[1]
	if mc.Channel != "ultra_sound" || mc.Type != "remote" {
		t.Errorf("remote model: got channel %q type %q", mc.Channel, mc.Type)
	}
	if mc.Output != "numerical" {
		t.Errorf("remote output: got %q", mc.Output)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "models: []\n")

	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("default http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Server.ReportTTL != DefaultReportTTL {
		t.Errorf("default report_ttl: got %v, want %v", cfg.Server.ReportTTL, DefaultReportTTL)
	}
	if len(cfg.Engine.Severity.Order) != len(DefaultSeverityOrder) {
		t.Fatalf("default severity order: got %v", cfg.Engine.Severity.Order)
	}
	for i, label := range DefaultSeverityOrder {
		if cfg.Engine.Severity.Order[i] != label {
			t.Errorf("severity order[%d]: got %q, want %q", i, cfg.Engine.Severity.Order[i], label)
		}
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown channel", `
models:
  - channel: humidity
    type: file
    path: m.yaml
`},
		{"duplicate channel", `
models:
  - channel: vibration
    type: file
    path: a.yaml
  - channel: vibration
    type: file
    path: b.yaml
`},
		{"file model without path", `
models:
  - channel: vibration
    type: file
`},
		{"remote model without endpoint", `
models:
  - channel: vibration
    type: remote
    output: categorical
`},
		{"remote model with bad output", `
models:
  - channel: vibration
    type: remote
    endpoint: "http://runtime/predict"
    output: fuzzy
`},
		{"unknown model type", `
models:
  - channel: vibration
    type: grpc
`},
		{"unknown auth mode", `
models:
  - channel: vibration
    type: remote
    endpoint: "http://runtime/predict"
    output: categorical
    auth:
      mode: magictoken
`},
		{"unknown feature field", `
models:
  - channel: vibration
    type: file
    path: m.yaml
    features: [vibration_x, humidity]
`},
		{"empty severity order", `
engine:
  severity:
    order: []
`},
		{"duplicate severity label", `
engine:
  severity:
    order: [healthy, healthy, critical]
`},
		{"band for unknown channel", `
engine:
  severity:
    bands:
      humidity:
        - label: healthy
`},
		{"rule without condition", `
alerts:
  rules:
    - name: overall-critical
`},
		{"unknown webhook type", `
alerts:
  webhooks:
    - type: pigeon
      url_env: PIGEON_URL
`},
		{"unknown history backend", `
history:
  backend: postgres
  addr: "localhost:5432"
`},
		{"clickhouse without addr", `
history:
  backend: clickhouse
`},
		{"mqtt broker without topic", `
ingest:
  mqtt:
    broker: "tcp://broker:1883"
`},
		{"bad http port", `
server:
  http_port: 70000
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestServerAuthConfig_Key(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	a := ServerAuthConfig{Mode: "apikey", KeyEnv: "TEST_API_KEY"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q, want %q", got, "supersecret")
	}
}

func TestServerAuthConfig_EffectiveHeader(t *testing.T) {
	if got := (ServerAuthConfig{}).EffectiveHeader(); got != DefaultAuthHeader {
		t.Errorf("default header: got %q, want %q", got, DefaultAuthHeader)
	}
	if got := (ServerAuthConfig{Header: "x-pulse-key"}).EffectiveHeader(); got != "x-pulse-key" {
		t.Errorf("custom header: got %q", got)
	}
}

func TestAuthConfig_Resolvers(t *testing.T) {
	t.Setenv("TEST_BEARER_TOKEN", "mytoken")
	t.Setenv("TEST_BASIC_PASSWORD", "hunter2")

	a := AuthConfig{Mode: "bearer", TokenEnv: "TEST_BEARER_TOKEN"}
	if got := a.Token(); got != "mytoken" {
		t.Errorf("Token(): got %q", got)
	}
	b := AuthConfig{Mode: "basic", Username: "pulse", PasswordEnv: "TEST_BASIC_PASSWORD"}
	if got := b.Password(); got != "hunter2" {
		t.Errorf("Password(): got %q", got)
	}
	if got := (AuthConfig{}).Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}

func TestWebhookConfig_URL(t *testing.T) {
	t.Setenv("TEAMS_URL", "https://teams.example.com/webhook")
	w := WebhookConfig{Type: "teams", URLEnv: "TEAMS_URL"}
	if got := w.URL(); got != "https://teams.example.com/webhook" {
		t.Errorf("URL(): got %q", got)
	}
}

func TestLoad_SeverityBands(t *testing.T) {
	yaml := `
engine:
  severity:
    order: [healthy, degraded, critical]
    bands:
      ultra_sound:
        - label: healthy
          below: 40
        - label: degraded
          below: 70
        - label: critical
`
	cfg := loadFromString(t, yaml)
	bands := cfg.Engine.Severity.Bands["ultra_sound"]
	if len(bands) != 3 {
		t.Fatalf("bands: got %d, want 3", len(bands))
	}
	if bands[0].Label != "healthy" || bands[0].Below == nil || *bands[0].Below != 40 {
		t.Errorf("band[0]: got %+v", bands[0])
	}
	if bands[2].Below != nil {
		t.Errorf("band[2] should be open-ended, got below=%v", *bands[2].Below)
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
