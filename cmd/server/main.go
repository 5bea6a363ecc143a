package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/assetpulse/assetpulse/internal/alerts"
	"github.com/assetpulse/assetpulse/internal/api"
	"github.com/assetpulse/assetpulse/internal/auth"
	"github.com/assetpulse/assetpulse/internal/config"
	"github.com/assetpulse/assetpulse/internal/engine"
	"github.com/assetpulse/assetpulse/internal/history"
	"github.com/assetpulse/assetpulse/internal/ingest"
	"github.com/assetpulse/assetpulse/internal/model"
	"github.com/assetpulse/assetpulse/internal/observe"
	"github.com/assetpulse/assetpulse/internal/prober"
	"github.com/assetpulse/assetpulse/internal/store"
	"github.com/assetpulse/assetpulse/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", "", "optional .env file with secrets (webhook URLs, API keys)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			slog.Error("failed to load env file", "path", *envFile, "err", err)
			os.Exit(1)
		}
	}

	slog.Info("assetpulse-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"report_ttl", cfg.Server.ReportTTL,
		"models", len(cfg.Models),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Channel models — file artifacts loaded, remote clients constructed.
	registry, err := model.Build(cfg.Models)
	if err != nil {
		slog.Error("failed to build model registry", "err", err)
		os.Exit(1)
	}

	metrics := observe.NewMetrics(prometheus.DefaultRegisterer)
	eng := engine.New(registry, engine.PolicyFrom(cfg.Engine.Severity), cfg.Engine.Workers, metrics)

	// Report store with background TTL eviction.
	st := store.New(cfg.Server.ReportTTL)
	go st.Run(ctx)

	// WebSocket hub — pushes each completed report to connected clients.
	hub := ws.New()
	go hub.Run(ctx)

	// Alerts engine — evaluates rules on every completed report.
	alertEngine := alerts.New(cfg.Alerts)

	// Optional ClickHouse persistence.
	sink, err := history.Open(cfg.History)
	if err != nil {
		slog.Error("failed to open history backend", "err", err)
		os.Exit(1)
	}
	if sink != nil {
		go sink.Run(ctx)
	}

	// Optional runtime availability probing for remote models.
	pr, err := prober.New(cfg.Models, config.DefaultProbeInterval)
	if err != nil {
		slog.Error("failed to build prober", "err", err)
		os.Exit(1)
	}
	var runtimes api.RuntimeSource
	if pr != nil {
		go pr.Run(ctx)
		runtimes = pr
	}

	// assess runs a batch through the engine and fans the report out to every
	// consumer. The API and MQTT paths share it.
	assess := func(ctx context.Context, body []byte) (*engine.Report, error) {
		rep, err := eng.Assess(ctx, body)
		if err != nil {
			return nil, err
		}
		st.Put(rep)
		hub.Publish(rep)
		alertEngine.Evaluate(rep)
		if sink != nil {
			sink.Save(rep)
		}
		return rep, nil
	}

	// Optional MQTT ingestion.
	mq, err := ingest.New(cfg.Ingest.MQTT, assess)
	if err != nil {
		slog.Error("failed to connect mqtt ingest", "err", err)
		os.Exit(1)
	}
	if mq != nil {
		go func() {
			if err := mq.Run(ctx); err != nil {
				slog.Error("mqtt ingest stopped", "err", err)
			}
		}()
	}

	// Hot reload: severity policy and alert rules apply without a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			eng.SetPolicy(engine.PolicyFrom(next.Engine.Severity))
			alertEngine.SetRules(next.Alerts.Rules)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// Combined HTTP server: REST API + WebSocket hub + Prometheus metrics.
	authMW := auth.APIKeyMiddleware(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
	)
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", authMW(api.New(assess, st, alertEngine, runtimes, modelInfos(cfg.Models, registry))))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("assetpulse-server shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}

// modelInfos maps the model config to its API representation. Output kind and
// feature lists come from the built registry so defaults are already resolved.
func modelInfos(cfgs []config.ModelConfig, reg *model.Registry) []api.ModelInfo {
	out := make([]api.ModelInfo, 0, len(cfgs))
	for _, mc := range cfgs {
		info := api.ModelInfo{
			Channel:  mc.Channel,
			Type:     mc.Type,
			Features: reg.Features(mc.Channel),
		}
		if m, ok := reg.Model(mc.Channel); ok {
			info.Output = string(m.Kind())
		}
		out = append(out, info)
	}
	return out
}
