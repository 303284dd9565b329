// Package api wires the JSON HTTP surface (C7): register, discover, status,
// poll, ack, CRUD for clusters/devices/baselines/rules/catalog, events,
// health/readiness, and login/logout, routed in the reference codebase's own
// style (chi router, logging + recoverer middleware, CORS, metrics
// middleware).
package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/xxrust/device-version-manager/internal/auth"
	"github.com/xxrust/device-version-manager/internal/discovery"
	"github.com/xxrust/device-version-manager/internal/dvp"
	"github.com/xxrust/device-version-manager/internal/llm"
	"github.com/xxrust/device-version-manager/internal/metrics"
	"github.com/xxrust/device-version-manager/internal/reconcile"
	"github.com/xxrust/device-version-manager/internal/scheduler"
	"github.com/xxrust/device-version-manager/internal/store"
)

// Server holds everything a handler needs; handler methods are declared
// across sibling files by resource (clusters.go, devices.go, ...).
type Server struct {
	store        *store.Store
	dvp          *dvp.Client
	reconciler   *reconcile.Reconciler
	scheduler    *scheduler.Scheduler
	discoverer   *discovery.Discoverer
	gate         *auth.Gate
	verifier     auth.PasswordVerifier
	llm          *llm.Analyzer
	log          *slog.Logger
	regToken     string
	cookieSecure bool
	shuttingDown atomic.Bool
}

// New builds a Server. verifier may be nil, in which case login always fails
// with invalid_credentials (the credential-storage scheme itself is out of
// scope; see internal/auth.PasswordVerifier).
func New(
	st *store.Store,
	dvpClient *dvp.Client,
	rec *reconcile.Reconciler,
	sched *scheduler.Scheduler,
	disc *discovery.Discoverer,
	gate *auth.Gate,
	verifier auth.PasswordVerifier,
	analyzer *llm.Analyzer,
	log *slog.Logger,
	regToken string,
	cookieSecure bool,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store: st, dvp: dvpClient, reconciler: rec, scheduler: sched, discoverer: disc,
		gate: gate, verifier: verifier, llm: analyzer, log: log,
		regToken: regToken, cookieSecure: cookieSecure,
	}
}

// MarkShuttingDown flips the flag readyz inspects so a draining instance
// stops receiving new traffic from its load balancer ahead of actually
// closing its listener.
func (s *Server) MarkShuttingDown() { s.shuttingDown.Store(true) }

// Router assembles the full chi tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	corsOrigins := []string{"*"}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		corsOrigins = strings.Split(origins, ",")
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Api-Token"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Post("/register", s.handleRegister)

		r.Group(func(r chi.Router) {
			r.Use(s.gate.RequireLogin)

			r.Get("/status", s.handleStatus)
			r.Get("/status/summary", s.handleStatusSummary)
			r.Get("/events", s.handleListEvents)

			r.Get("/clusters", s.handleListClusters)
			r.Get("/devices", s.handleListDevices)
			r.Get("/devices/{id}", s.handleGetDevice)
			r.Get("/devices/{id}/version-history", s.handleDeviceVersionHistory)
			r.Get("/baselines", s.handleListBaselines)
			r.Get("/rules", s.handleListRules)
			r.Get("/catalog", s.handleListCatalog)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.gate.RequireAdmin)

			r.Post("/discover", s.handleDiscover)
			r.Post("/poll", s.handlePoll)
			r.Post("/devices/{id}/ack-controlled-files", s.handleAckControlledFiles)

			r.Post("/clusters", s.handleCreateCluster)

			r.Post("/devices", s.handleCreateDevice)
			r.Put("/devices/{id}", s.handleUpdateDevice)
			r.Delete("/devices/{id}", s.handleDeleteDevice)

			r.Post("/baselines", s.handleUpsertBaseline)
			r.Delete("/baselines/{id}", s.handleDeleteBaseline)

			r.Post("/rules", s.handleUpsertRule)
			r.Delete("/rules/{id}", s.handleDeleteRule)

			r.Post("/catalog", s.handleUpsertCatalogEntry)
		})
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store ping failed: " + err.Error()))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
