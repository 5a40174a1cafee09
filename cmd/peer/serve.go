package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"vidswarm/internal/core/domain"
	"vidswarm/internal/core/services"
	httphandlers "vidswarm/internal/handlers/http"
	"vidswarm/internal/infrastructure/monitoring"
	"vidswarm/internal/infrastructure/protocol"
	"vidswarm/internal/infrastructure/repositories"
	"vidswarm/internal/infrastructure/transfer"
	"vidswarm/pkg/circuitbreaker"
	"vidswarm/pkg/logger"
	"vidswarm/pkg/retry"
	"vidswarm/pkg/tracing"
	"vidswarm/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	servePeerID  string
	servePort    int
	serveTracker string
	servePublish []string
)

// serveCmd runs a peer node until interrupted or stopped through the control API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a peer node with its HTTP control API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if servePeerID != "" {
			cfg.Peer.ID = servePeerID
		}
		if cfg.Peer.ID == "" {
			cfg.Peer.ID = utils.GenerateID("peer")
		}
		if cmd.Flags().Changed("port") {
			cfg.Peer.Port = servePort
		}
		if serveTracker != "" {
			host, port, err := net.SplitHostPort(serveTracker)
			if err != nil {
				return fmt.Errorf("invalid --tracker %q: %w", serveTracker, err)
			}
			cfg.Peer.TrackerHost = host
			if cfg.Peer.TrackerPort, err = strconv.Atoi(port); err != nil {
				return fmt.Errorf("invalid --tracker port %q: %w", port, err)
			}
		}
		if cfg.Peer.AdvertiseHost == "" {
			host, err := utils.OutboundHost(cfg.TrackerAddress())
			if err != nil {
				return fmt.Errorf("detect advertise host, set peer.advertise_host: %w", err)
			}
			cfg.Peer.AdvertiseHost = host
		}
		if cfg.Peer.StorageDir == "" {
			cfg.Peer.StorageDir = "peer_videos_" + cfg.Peer.ID
		}
		if err := os.MkdirAll(cfg.Peer.StorageDir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}

		zapLogger := newLogger(cfg)
		defer zapLogger.Sync()
		log := zapLogger.Sugar().With("component", "peer")

		tp, err := tracing.Init(tracing.Config{
			Enabled:     cfg.Tracing.Enabled,
			ServiceName: cfg.Tracing.ServiceName + "-peer",
			JaegerURL:   cfg.Tracing.JaegerURL,
			Environment: cfg.Tracing.Environment,
			SampleRate:  cfg.Tracing.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("initialize tracing: %w", err)
		}

		repoFactory := repositories.NewRepositoryFactory(cfg, log)
		defer repoFactory.Close()

		reg := prometheus.NewRegistry()
		metrics := monitoring.NewPeerCollector(reg)
		hub := services.NewEventHub(256)
		defer hub.Close()

		peerID := domain.PeerID(cfg.Peer.ID)
		library := repoFactory.CreateLibraryRepository()
		connections := repoFactory.CreateConnectionRepository()

		server := transfer.NewServer(transfer.Config{
			PeerID:         peerID,
			ReadTimeout:    cfg.Transfer.ReadTimeout,
			WriteTimeout:   cfg.Transfer.WriteTimeout,
			MaxConnections: cfg.Transfer.MaxConnections,
			ChunkSize:      cfg.Transfer.ChunkSize,
		}, library, connections, hub, metrics, log)

		deps := services.PeerDeps{
			Tracker:     protocol.NewTrackerClient(cfg.TrackerAddress(), clientConfig(cfg)),
			Peers:       protocol.NewPeerClient(clientConfig(cfg), cfg.Transfer.ChunkSize),
			Library:     library,
			Connections: connections,
			Server:      server,
			Events:      hub,
			Metrics:     metrics,
		}
		if bus := repoFactory.CreateEventBus(cfg.Peer.ID); bus != nil {
			deps.Registry = bus
		}

		retryCfg := retry.DefaultConfig()
		retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
		retryCfg.InitialDelay = cfg.Retry.InitialDelay
		retryCfg.MaxDelay = cfg.Retry.MaxDelay

		node := services.NewPeerNode(services.PeerConfig{
			ID:                peerID,
			ListenHost:        cfg.Peer.ListenHost,
			AdvertiseHost:     cfg.Peer.AdvertiseHost,
			Port:              cfg.Peer.Port,
			DownloadDir:       cfg.Peer.StorageDir,
			HeartbeatInterval: cfg.Peer.HeartbeatInterval,
			RequestTimeout:    cfg.Peer.RequestTimeout,
			KeepaliveInterval: cfg.Session.KeepaliveInterval,
			MaxSessions:       cfg.Session.MaxSessions,
			Retry:             retryCfg,
			Breaker: circuitbreaker.Config{
				FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
				SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
				Timeout:          cfg.CircuitBreaker.Timeout,
			},
		}, deps, log)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Subscribe before Start so node.stopped from the control API is never missed.
		lifecycle := hub.Subscribe()
		defer lifecycle.Close()

		if err := node.Start(ctx); err != nil {
			return err
		}
		log.Infow("peer started",
			"tracker", cfg.TrackerAddress(),
			"port", node.Port(),
			"storage_dir", cfg.Peer.StorageDir,
		)

		for _, path := range servePublish {
			video, err := node.PublishVideo(ctx, "", "", -1, path)
			if err != nil {
				log.Warnw("failed to publish video", "path", path, "error", err)
				continue
			}
			log.Infow("published", "video_id", video.ID, "name", video.Name, "size", video.SizeBytes)
		}

		health := monitoring.NewHealthChecker()
		health.AddTrackerCheck(node.TrackerAvailable, time.Second)
		health.AddListenerCheck("transfer_listener", cfg.Peer.ListenHost, node.Port, 2*time.Second)
		if client := repoFactory.RedisClient(); client != nil {
			health.AddRedisCheck(client, 2*time.Second)
		}

		router := httphandlers.NewRouter(cfg, logger.NewContextLogger(log), health, reg)
		httphandlers.NewPeerHandler(node, httphandlers.NewEventStream(hub, log), cfg.Admin.ShutdownTimeout).SetupRoutes(router)

		// No WriteTimeout: downloads and the event stream outlive any fixed bound.
		controlSrv := &http.Server{
			Addr:        cfg.Peer.ControlAddress,
			Handler:     router,
			ReadTimeout: cfg.Admin.ReadTimeout,
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			log.Infow("control API listening", "address", cfg.Peer.ControlAddress)
			if err := controlSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case event, ok := <-lifecycle.Events():
					if !ok || event.Type == domain.EventNodeStopped {
						log.Info("node stopped through the control API")
						stop()
						return nil
					}
				}
			}
		})

		g.Go(func() error {
			<-gctx.Done()
			log.Info("shutting down peer")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
			defer cancel()

			if err := node.Stop(shutdownCtx); err != nil {
				log.Errorw("peer shutdown failed", "error", err)
			}
			if err := controlSrv.Shutdown(shutdownCtx); err != nil {
				log.Errorw("control API shutdown failed", "error", err)
			}
			if err := tp.Shutdown(shutdownCtx); err != nil {
				log.Errorw("tracing shutdown failed", "error", err)
			}
			return nil
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePeerID, "id", "", "peer id (defaults to peer.id or a generated id)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "transfer port, 0 picks a free one")
	serveCmd.Flags().StringVar(&serveTracker, "tracker", "", "tracker host:port")
	serveCmd.Flags().StringSliceVar(&servePublish, "publish", nil, "video files to publish at start")
}
