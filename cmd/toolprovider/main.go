package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/mind-engage/mindengage-lti-provider/internal/app"
	"github.com/mind-engage/mindengage-lti-provider/internal/config"
	"github.com/mind-engage/mindengage-lti-provider/internal/logging"
	"github.com/mind-engage/mindengage-lti-provider/internal/metrics"
	"github.com/mind-engage/mindengage-lti-provider/pkg/admin"
	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
	"github.com/mind-engage/mindengage-lti-provider/pkg/lti/httpchi"
)

func main() {
	cfg := config.FromEnv()
	logger := logging.Initialize(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	backend, err := app.OpenBackend(openCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("storage open failed", "err", err)
		os.Exit(1)
	}
	defer backend.Close()

	// --- Metrics ---
	var m *metrics.Metrics
	var obs lti.Observer
	if cfg.EnableMetrics {
		m = metrics.New()
		obs = m
	}

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if m != nil {
		r.Use(m.Instrument)
		r.Handle("/metrics", m.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := backend.Ready(r.Context()); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	// LTI launch (consumers post cross-site; no CORS)
	launch := &httpchi.Handler{
		Store:           backend.Store,
		Options:         app.LaunchOptions(cfg, logger, obs),
		Sessions:        httpchi.NewSessionIssuer(cfg.SessionSecret, cfg.SessionTTL),
		PublicURL:       cfg.PublicURL,
		SuccessRedirect: cfg.SuccessRedirect,
		Limiter:         httpchi.NewRateLimiter(cfg.LaunchRateLimit, cfg.LaunchRateBurst),
		Logger:          logger,
	}
	r.Mount("/lti", launch.Routes())

	// Admin API
	if cfg.AdminEnabled() {
		r.Route("/admin", func(ar chi.Router) {
			ar.Use(cors.Handler(cors.Options{
				AllowedOrigins:   cfg.CORSOrigins,
				AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Authorization", "Content-Type"},
				ExposedHeaders:   []string{"Content-Length"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
			ar.Use(admin.BasicAuth(cfg.AdminUser, cfg.AdminPassHash))
			ar.Mount("/", admin.Routes(backend.Store, admin.Options{AutoEnable: cfg.AutoEnable, IDScope: cfg.IDScope}))
		})
	} else {
		logger.Warn("admin API disabled; set ADMIN_USER and ADMIN_PASS_HASH to enable")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver, "nonces", cfg.NonceBackend, "sharing", cfg.AllowSharing)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
