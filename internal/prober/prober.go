package prober

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/assetpulse/assetpulse/internal/config"
	"github.com/assetpulse/assetpulse/internal/model"
)

const probeTimeout = 10 * time.Second

// Status is the latest probe outcome for one remote model runtime.
type Status struct {
	Channel  string    `json:"channel"`
	URL      string    `json:"url"`
	Up       bool      `json:"up"`
	ProbedAt time.Time `json:"probed_at"`
	Error    string    `json:"error,omitempty"`

	// RequestsTotal and ErrorsTotal are summed from the runtime's own
	// exposition, when it exports them. Zero when absent.
	RequestsTotal float64 `json:"requests_total"`
	ErrorsTotal   float64 `json:"errors_total"`
}

// target is one runtime metrics endpoint with its prebuilt HTTP client.
type target struct {
	channel string
	url     string
	client  *http.Client
}

// Prober periodically scrapes the Prometheus endpoints of remote model
// runtimes so operators can see runtime availability alongside report quality.
// Runtimes without a metrics_url are not probed.
type Prober struct {
	targets  []target
	interval time.Duration

	mu       sync.RWMutex
	statuses map[string]Status
}

// New builds a Prober from the model configuration. Returns nil when no
// remote model exposes a metrics URL — the caller simply skips Run.
func New(cfgs []config.ModelConfig, interval time.Duration) (*Prober, error) {
	if interval <= 0 {
		interval = config.DefaultProbeInterval
	}

	var targets []target
	for _, mc := range cfgs {
		if mc.Type != "remote" || mc.MetricsURL == "" {
			continue
		}
		client, err := model.NewHTTPClient(mc.Auth, mc.TLS, probeTimeout)
		if err != nil {
			return nil, fmt.Errorf("prober: channel %q: %w", mc.Channel, err)
		}
		targets = append(targets, target{channel: mc.Channel, url: mc.MetricsURL, client: client})
	}
	if len(targets) == 0 {
		return nil, nil
	}

	return &Prober{
		targets:  targets,
		interval: interval,
		statuses: make(map[string]Status, len(targets)),
	}, nil
}

// Run probes all targets immediately, then on every interval tick.
// Blocks until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	p.probeAll(ctx)

	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.probeAll(ctx)
		}
	}
}

// Statuses returns the latest probe outcome per channel.
func (p *Prober) Statuses() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Status, 0, len(p.statuses))
	for _, t := range p.targets {
		if s, ok := p.statuses[t.channel]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (p *Prober) probeAll(ctx context.Context) {
	for _, t := range p.targets {
		s := p.probe(ctx, t)
		p.mu.Lock()
		p.statuses[t.channel] = s
		p.mu.Unlock()

		if !s.Up {
			slog.Warn("prober: runtime unreachable",
				"channel", t.channel, "url", t.url, "err", s.Error)
		}
	}
}

// probe scrapes one runtime's metrics endpoint.
func (p *Prober) probe(ctx context.Context, t target) Status {
	s := Status{Channel: t.channel, URL: t.url, ProbedAt: time.Now().UTC()}

	mfs, err := fetchMetrics(ctx, t.client, t.url)
	if err != nil {
		s.Error = err.Error()
		return s
	}

	s.Up = true
	s.RequestsTotal = sumFamily(mfs["http_requests_total"])
	s.ErrorsTotal = sumFamily(mfs["http_request_errors_total"])
	return s
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	// Non-empty result with a non-nil err means partial parse (trailing lines,
	// format warnings). Treat as success.
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
