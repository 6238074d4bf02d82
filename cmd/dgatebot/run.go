package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/discord-net/dgate"
	"github.com/discord-net/dgate/dispatch"
	"github.com/discord-net/dgate/internal"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect every configured shard and serve health and metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := dgate.LoadConfig(flags.configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
}

func setupObservability(cfg dgate.Config) error {
	if cfg.SentryDSN != "" {
		logger.Info().Msg("initialising sentry")
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: version,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
	}
	if cfg.OTLPURL != "" {
		if err := internal.ConfigureOTLP(cfg.OTLPURL, cfg.OTLPUsername, cfg.OTLPPassword, "dgatebot", version); err != nil {
			return fmt.Errorf("configure OTLP: %w", err)
		}
	}
	return nil
}

func logEvents(client *dgate.Client) {
	dgate.On(client, func(ctx context.Context, ev dispatch.Ready) {
		logger.Info().Int("shard", ev.ShardID).Str("session_id", ev.SessionID).Int("guilds", len(ev.Guilds)).
			Int("purged", ev.Purged).Msg("shard ready")
	})
	dgate.On(client, func(ctx context.Context, ev dispatch.Disconnected) {
		l := logger.Warn()
		if ev.Fatal {
			l = logger.Error()
		}
		l.Int("shard", ev.ShardID).Err(ev.Err).Bool("fatal", ev.Fatal).Msg("shard disconnected")
	})
	dgate.On(client, func(ctx context.Context, ev dispatch.AuthenticationFailed) {
		logger.Error().Int("shard", ev.ShardID).Err(ev.Err).Msg("token rejected")
	})
	dgate.On(client, func(ctx context.Context, ev dispatch.GuildCreate) {
		logger.Debug().Str("guild_id", ev.Guild.ID.String()).Str("name", ev.Guild.Name.OrElse("")).Msg("guild available")
	})
}

func run(ctx context.Context, cfg dgate.Config) error {
	if err := setupObservability(cfg); err != nil {
		return err
	}
	defer sentry.Flush(2 * time.Second)

	client, err := dgate.NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	logEvents(client)

	var gatherer prometheus.Gatherer
	if cfg.EnablePrometheus {
		gatherer = prometheus.DefaultGatherer
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newServer(client, gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Msgf("listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("failed to listen and serve")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http server did not shut down cleanly")
		}
	}()

	if err := client.Open(ctx); err != nil {
		return err
	}
	waitErr := make(chan error, 1)
	go func() { waitErr <- client.Wait() }()
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		return client.Close()
	case err := <-waitErr:
		if err != nil {
			internal.CaptureError(ctx, err, nil)
		}
		return err
	}
}
