package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidswarm/internal/core/services"
	httphandlers "vidswarm/internal/handlers/http"
	"vidswarm/internal/infrastructure/middleware"
	"vidswarm/internal/infrastructure/monitoring"
	"vidswarm/internal/infrastructure/repositories"
	"vidswarm/internal/infrastructure/tracker"
	"vidswarm/pkg/config"
	"vidswarm/pkg/logger"
	"vidswarm/pkg/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	configPath := flag.String("config", "configs/tracker.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar().With("component", "tracker")
	if err != nil {
		log.Warnw("config not loaded, using defaults", "path", *configPath, "error", err)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName + "-tracker",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	defer repoFactory.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewTrackerCollector(reg)

	store := repoFactory.CreateRegistryStore()
	trackerService := services.NewTrackerService(
		store,
		repoFactory.CreateEventPublisher("tracker"),
		metrics,
		cfg.Tracker.SweepInterval,
		log,
	)

	var admit func(net.Addr) error
	var limiter *middleware.IPRateLimiter
	if cfg.RateLimiting.Enabled {
		limiter = middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimiting.Connections.PerSecond), cfg.RateLimiting.Connections.Burst)
		admit = limiter.AdmitConn
	}

	server := tracker.NewServer(tracker.Config{
		ReadTimeout:    cfg.Tracker.ReadTimeout,
		WriteTimeout:   cfg.Tracker.WriteTimeout,
		MaxConnections: cfg.Tracker.MaxConnections,
		Admit:          admit,
	}, trackerService, metrics, log)

	ln, err := net.Listen("tcp", cfg.Tracker.Address)
	if err != nil {
		log.Fatalw("failed to bind tracker port", "address", cfg.Tracker.Address, "error", err)
	}

	health := monitoring.NewHealthChecker()
	health.AddRegistryCheck(store, 2*time.Second)
	bound := ln.Addr().(*net.TCPAddr)
	health.AddListenerCheck("tracker_listener", bound.IP.String(), func() int { return bound.Port }, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 2*time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return trackerService.Run(gctx)
	})

	g.Go(func() error {
		log.Infow("tracker listening", "address", ln.Addr().String(), "peer_timeout", cfg.Tracker.PeerTimeout)
		return server.Serve(ln)
	})

	if limiter != nil {
		g.Go(func() error {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if n := limiter.Prune(10 * time.Minute); n > 0 {
						log.Debugw("pruned idle rate limiters", "count", n)
					}
				}
			}
		})
	}

	var adminSrv *http.Server
	if cfg.Admin.Enabled {
		router := httphandlers.NewRouter(cfg, logger.NewContextLogger(log), health, reg)
		httphandlers.NewTrackerHandler(trackerService, server.ActiveConnections).SetupRoutes(router)

		adminSrv = &http.Server{
			Addr:         cfg.Admin.Address,
			Handler:      router,
			ReadTimeout:  cfg.Admin.ReadTimeout,
			WriteTimeout: cfg.Admin.WriteTimeout,
		}
		g.Go(func() error {
			log.Infow("admin API listening", "address", cfg.Admin.Address)
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down tracker")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Tracker.ShutdownTimeout)
		defer cancel()

		if adminSrv != nil {
			if err := adminSrv.Shutdown(shutdownCtx); err != nil {
				log.Errorw("admin API shutdown failed", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorw("tracker shutdown failed", "error", err)
		}
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Errorw("tracing shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("tracker stopped with error", "error", err)
		zapLogger.Sync()
		os.Exit(1)
	}
	log.Info("tracker stopped")
}
