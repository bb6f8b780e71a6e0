package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/auth"
	"github.com/alfredjeanlab/leafbus/internal/bus"
	"github.com/alfredjeanlab/leafbus/internal/certstore"
	"github.com/alfredjeanlab/leafbus/internal/config"
	"github.com/alfredjeanlab/leafbus/internal/events"
	"github.com/alfredjeanlab/leafbus/internal/presence"
	"github.com/alfredjeanlab/leafbus/internal/server"
	"github.com/alfredjeanlab/leafbus/internal/services"
	"github.com/alfredjeanlab/leafbus/internal/store"
	"github.com/alfredjeanlab/leafbus/internal/store/filestore"
	"github.com/alfredjeanlab/leafbus/internal/store/postgres"
	leafsync "github.com/alfredjeanlab/leafbus/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the hub",
	GroupID: "hub",
	Args:    cobra.NoArgs,
	// No admin client needed.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		level, err := parseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, level)
	},
}

func serve(ctx context.Context, cfg *config.Config, level slog.Level) error {
	text := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	b := bus.New(addr.Earth, bus.WithQueue(cfg.QueueSize, cfg.DropPolicy), bus.WithLogger(slog.New(text)))
	logger := slog.New(services.TeeHandler{text, services.NewLogHandler(b, slog.LevelWarn, addr.Clients)})
	slog.SetDefault(logger)

	// Config storage and tree lookups.
	var (
		storage store.ConfigStorage
		trees   store.TreeStore
	)
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		storage, trees = pg, pg
		logger.Info("postgres enabled")
	} else {
		storage = &filestore.File{Path: cfg.ConfigFile}
		logger.Info("config stored in file, tree checks disabled (LEAF_DATABASE_URL not set)", "path", cfg.ConfigFile)
	}

	rebuild := func(context.Context) (json.RawMessage, error) {
		return services.BuildConfig(services.BuildOptions{
			DefaultDir: cfg.ConfigDefaultsDir,
			UserDir:    cfg.ConfigUserDir,
			Extra: map[string]any{
				"domain":       cfg.Domain,
				"project_name": cfg.ProjectName,
				"environment":  cfg.Environment,
			},
		})
	}
	conf := services.NewConfig(b, storage, services.Authoritative, logger)
	if err := conf.Load(ctx); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if conf.Version() == "" {
		doc, err := rebuild(ctx)
		if err != nil {
			return fmt.Errorf("building config: %w", err)
		}
		if err := conf.Replace(ctx, doc); err != nil {
			return fmt.Errorf("storing config: %w", err)
		}
		logger.Info("config built", "version", conf.Version())
	}

	// Certificates.
	var certSrc certstore.Source = certstore.Dir(cfg.CertDir)
	if cfg.CertS3Bucket != "" {
		s3src, err := certstore.NewS3(ctx, cfg.CertS3Bucket, cfg.CertS3Prefix, cfg.CertS3Region, cfg.CertS3Endpoint)
		if err != nil {
			return err
		}
		certSrc = s3src
		logger.Info("certificates from S3", "bucket", cfg.CertS3Bucket, "prefix", cfg.CertS3Prefix)
	}

	// Event publisher.
	var publisher events.Publisher
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		publisher = pub
		logger.Info("events enabled", "nats_url", cfg.NATSURL)
	} else {
		publisher = &events.NoopPublisher{}
		logger.Info("events disabled (LEAF_NATS_URL not set)")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
	}()

	// Services, in delivery order.
	reg := presence.New()
	reg.StartReaper(&presence.ReaperConfig{
		OnEvict: func(a string) { logger.Info("evicted stale gateway record", "addr", a) },
	})
	defer reg.Stop()

	jwt := auth.NewJWT(cfg.JWTSecret, trees)
	state := services.NewCurrentState(b)
	certs := services.NewCertificates(b, certstore.New(certSrc, cfg.Domain), logger)

	b.Subscribe(&services.Tracer{Logger: logger})
	b.Subscribe(conf)
	b.Subscribe(state)
	b.Subscribe(services.NewLogHistory(b, cfg.LogHistory))
	b.Subscribe(certs)

	hub := server.NewHub(b, reg, server.Options{Timeout: cfg.Timeout, Logger: logger})
	hub.Gateways = server.OnlyGateways(jwt)
	hub.Clients = server.OnlyClients(jwt)
	hub.Config = conf
	hub.Certs = certs
	hub.Rebuild = rebuild
	if trees != nil {
		secrets := services.NewSecrets(b, &services.TreeSecrets{Trees: trees, Tokens: jwt, Domain: cfg.Domain}, logger)
		b.Subscribe(secrets)
		hub.Secrets = secrets
	}
	b.Subscribe(events.NewMirror(publisher, slog.New(text)))

	go b.Run(ctx)

	if cfg.CounterInterval > 0 {
		counter := services.NewCounter(b, "counter:count", cfg.CounterInterval, 0)
		b.Subscribe(counter)
		go counter.Run(ctx)
		logger.Info("counter enabled", "eid", counter.EID(), "interval", cfg.CounterInterval)
	}

	// gRPC health.
	grpcServer, healthServer := server.NewGRPCServer(cfg.AdminToken)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}
	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "err", err)
		}
	}()

	// HTTP: websockets, admin API, metrics.
	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     hub.NewHTTPHandler(cfg.AdminToken),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "err", err)
		}
	}()

	scheduler := startSync(ctx, cfg, leafsync.Source{Registry: reg, State: state, Config: conf}, logger)

	server.SetServing(healthServer, true)
	logger.Info("earth started", "grpc_addr", cfg.GRPCAddr, "http_addr", cfg.HTTPAddr, "config_version", conf.Version())

	<-ctx.Done()
	logger.Info("shutting down")
	server.SetServing(healthServer, false)

	if scheduler != nil {
		scheduler.Stop()
		logger.Info("sync scheduler stopped")
	}

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "err", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// startSync starts the snapshot scheduler if any destination is
// configured. It returns nil otherwise.
func startSync(ctx context.Context, cfg *config.Config, src leafsync.Source, logger *slog.Logger) *leafsync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []leafsync.Destination
	if cfg.SyncS3Bucket != "" {
		s3Dest, err := leafsync.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Key, cfg.SyncS3Region, cfg.SyncS3Endpoint)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}
	if cfg.SyncGitRepo != "" {
		dests = append(dests, leafsync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}
	if len(dests) == 0 {
		return nil
	}
	s := leafsync.NewScheduler(src, dests, cfg.SyncInterval, logger)
	s.Start(ctx)
	logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	return s
}
