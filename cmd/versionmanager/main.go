// Command versionmanager is the process entrypoint: it assembles Config,
// opens the Store, wires the Reconciler/Scheduler/Webhook/Discovery/Auth/
// Metrics/LLM components, mounts the API router, starts the periodic
// scheduler, and serves until a shutdown signal arrives, grounded on the
// reference codebase's own lake/api/main.go bootstrap shape.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xxrust/device-version-manager/internal/api"
	"github.com/xxrust/device-version-manager/internal/auth"
	"github.com/xxrust/device-version-manager/internal/config"
	"github.com/xxrust/device-version-manager/internal/differ"
	"github.com/xxrust/device-version-manager/internal/discovery"
	"github.com/xxrust/device-version-manager/internal/dvp"
	"github.com/xxrust/device-version-manager/internal/llm"
	"github.com/xxrust/device-version-manager/internal/metrics"
	"github.com/xxrust/device-version-manager/internal/reconcile"
	"github.com/xxrust/device-version-manager/internal/scheduler"
	"github.com/xxrust/device-version-manager/internal/store"
	"github.com/xxrust/device-version-manager/internal/webhook"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newLogger() *slog.Logger {
	if os.Getenv("VM_LOG_FORMAT") == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "15:04:05.000",
	}))
}

func main() {
	log := newLogger()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log.Info("starting versionmanager", "version", version, "commit", commit, "date", date)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, log, cfg.DBPath)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := config.ApplySeedFile(ctx, st, cfg.SeedFile); err != nil {
		log.Error("failed to apply seed file", "error", err)
		os.Exit(1)
	}

	dvpClient := dvp.NewClient(2 * time.Second)
	diff := differ.New(st, nil)

	var notifier reconcile.Notifier
	if cfg.WebhookURL != "" {
		notifier = webhook.New(cfg.WebhookURL, log)
	}
	rec := reconcile.New(st, dvpClient, diff, notifier, log)

	sched := scheduler.New(st, rec, log, cfg.PollInterval,
		scheduler.WithConcurrency(cfg.PollWorkers),
		scheduler.WithClock(clockwork.NewRealClock()),
	)

	disc := discovery.New(st, dvpClient, log, cfg.PollWorkers,
		discovery.WithPingPreFilter(cfg.DiscoveryPingPrefilter),
	)

	gate := auth.NewGate(st, cfg.APIToken)
	analyzer := llm.New(cfg.AnthropicAPIKey)

	srv := api.New(st, dvpClient, rec, sched, disc, gate, nil, analyzer, log, cfg.RegistrationToken, cfg.CookieSecure)

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		listener, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			log.Warn("failed to start metrics listener", "error", err)
		} else {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsServer = &http.Server{Handler: mux}
			go func() {
				if err := metricsServer.Serve(listener); err != nil && err != http.ErrServerClosed {
					log.Warn("metrics server error", "error", err)
				}
			}()
			log.Info("metrics server listening", "addr", listener.Addr().String())
		}
	}

	schedCtx, schedCancel := context.WithCancel(ctx)
	go sched.Run(schedCtx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("api server error", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown
	log.Info("received signal, shutting down", "signal", sig.String())

	srv.MarkShuttingDown()
	schedCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown error", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown error", "error", err)
		}
	}
}
