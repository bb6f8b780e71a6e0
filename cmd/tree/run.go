package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/bus"
	"github.com/alfredjeanlab/leafbus/internal/gateway"
	"github.com/alfredjeanlab/leafbus/internal/services"
	"github.com/alfredjeanlab/leafbus/internal/store/filestore"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// logHistory is the number of error records a gateway keeps for get_log.
const logHistory = 100

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the hub and relay events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := gateway.LoadSettings(settingsPath)
		if err != nil {
			return err
		}
		level, err := parseLevel(s.LogLevel)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, s, level)
	},
}

func run(ctx context.Context, s *gateway.Settings, level slog.Level) error {
	if err := os.MkdirAll(s.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	text := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	b := bus.New(s.Addr(), bus.WithLogger(slog.New(text)))
	logger := slog.New(services.TeeHandler{text, services.NewLogHandler(b, slog.LevelWarn, addr.Clients)})
	slog.SetDefault(logger)

	conf := services.NewConfig(b, &filestore.File{Path: s.ConfigPath()}, services.Replica, logger)
	if err := conf.Load(ctx); err != nil {
		logger.Warn("ignoring cached config", "path", s.ConfigPath(), "err", err)
	}
	upd := gateway.NewUpdater(s.Addr(), s.SecretsPath(), s.CertDir(), s.Token, logger)
	if upd.Token() == "" {
		return errors.New("no gateway token (set token in settings or LEAF_GATEWAY_TOKEN)")
	}

	b.Subscribe(&services.Tracer{Logger: logger})
	b.Subscribe(conf)
	b.Subscribe(services.NewCurrentState(b))
	b.Subscribe(services.NewLogHistory(b, logHistory))
	b.Subscribe(upd)

	go b.Run(ctx)

	if s.Counter {
		counter := services.NewCounter(b, "counter:count", time.Second, 0)
		b.Subscribe(counter)
		go counter.Run(ctx)
	}

	client := gateway.NewClient(b, gateway.Options{
		URL:   s.HubURL,
		Token: upd.Token,
		Local: func() wire.Versions {
			return wire.Versions{
				Config:      conf.Version(),
				Secrets:     upd.SecretsVersion(),
				Certificate: upd.CertVersion(),
			}
		},
		Backoff: gateway.NewBackoff(s.BackoffFloor, s.BackoffCap),
		Logger:  logger,
	})
	logger.Info("tree started", "addr", s.Addr(), "hub", s.HubURL, "config_version", conf.Version())

	err := client.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("shutdown complete")
	return err
}
