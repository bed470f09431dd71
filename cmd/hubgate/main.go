package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/hubgate/hubgate/pkg/api"
	"github.com/hubgate/hubgate/pkg/authstate"
	"github.com/hubgate/hubgate/pkg/config"
	"github.com/hubgate/hubgate/pkg/gate"
	"github.com/hubgate/hubgate/pkg/httputil"
	"github.com/hubgate/hubgate/pkg/middleware"
	"github.com/hubgate/hubgate/pkg/observability"
	"github.com/hubgate/hubgate/pkg/permissions"
	"github.com/hubgate/hubgate/pkg/provider"
	"github.com/hubgate/hubgate/pkg/session"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	// Stores are single shared instances for the process lifetime.
	sessions := session.NewStore(cfg.Sessions.TTL, cfg.Sessions.CapacityHint)
	states := authstate.NewStore()
	cache := permissions.NewCache(cfg.Cache.Capacity, cfg.Cache.TTL)

	ghClient := provider.NewGitHubClient(cfg.Provider)
	resolver := permissions.NewResolver(cache, ghClient, logger, metrics)
	accessGate := gate.New(sessions, resolver)

	if !cfg.Provider.Configured() {
		logger.Warn("provider client credentials not configured, login endpoints will fail")
	}

	handlers := api.NewHandlers(sessions, states, resolver, ghClient, accessGate, logger, metrics, cfg.Provider.Configured())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rateLimit := middleware.NewRateLimitMiddleware()
	rateLimit.StartCleanup(ctx)

	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
	)
	if cfg.Observability.MetricsEnabled {
		router.Use(api.MetricsMiddleware(metrics))
	}
	// Rate limiting is installed per route group inside RegisterRoutes: the
	// session limiter has to run after authentication to see the subject.
	handlers.RegisterRoutes(router, rateLimit)

	// Background expiry sweeps. Correctness never depends on these (reads
	// check expiry themselves); they reclaim memory and keep gauges honest.
	// Panics and failures inside a sweep are logged, never fatal.
	sweeper := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger))))
	mustSchedule(logger, sweeper, "@every "+cfg.Sessions.SweepInterval.String(), func() {
		removed := sessions.SweepExpired()
		if removed > 0 {
			logger.WithField("removed", removed).Debug("session sweep completed")
		}
		metrics.SweepRemovedTotal.WithLabelValues("sessions").Add(float64(removed))
		metrics.SessionsActive.Set(float64(sessions.Stats().ActiveCount))

		removed = states.SweepExpired()
		metrics.SweepRemovedTotal.WithLabelValues("auth_states").Add(float64(removed))
	})
	mustSchedule(logger, sweeper, "@every "+cfg.Cache.SweepInterval.String(), func() {
		removed := cache.SweepExpired()
		if removed > 0 {
			logger.WithField("removed", removed).Debug("permission cache sweep completed")
		}
		stats := cache.Stats()
		metrics.SweepRemovedTotal.WithLabelValues("permission_cache").Add(float64(removed))
		metrics.CacheSize.Set(float64(stats.Size))
		metrics.CacheEvictions.Set(float64(stats.Evictions))
	})
	sweeper.Start()
	defer sweeper.Stop()

	healthMux := http.NewServeMux()
	health := observability.NewHealthChecker(map[string]observability.Check{
		"provider": providerReachabilityCheck(cfg.Provider),
	})
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthMux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteSuccess(w, map[string]interface{}{
			"sessions":         sessions.Stats(),
			"auth_states":      map[string]int{"pending": states.Len()},
			"permission_cache": cache.Stats(),
		})
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("starting API server")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("starting health server")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("API server shutdown error")
		}
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("health server shutdown error")
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// mustSchedule registers a cron job or exits; a bad schedule is a programming
// error, not a runtime condition.
func mustSchedule(logger interface{ Fatalf(string, ...interface{}) }, c *cron.Cron, spec string, job func()) {
	if _, err := c.AddFunc(spec, job); err != nil {
		logger.Fatalf("failed to schedule %q: %v", spec, err)
	}
}

// providerReachabilityCheck reports whether the provider API answers at all.
// Used only for readiness; resolution itself fails closed when the provider
// is down.
func providerReachabilityCheck(cfg provider.Config) observability.Check {
	apiBase := cfg.APIBaseURL
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}
	client := &http.Client{Timeout: cfg.Timeout}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, apiBase, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("provider unreachable: %w", err)
		}
		resp.Body.Close()
		return nil
	}
}
