package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"appointment-sync/internal/feed"
	"appointment-sync/internal/handler"
	"appointment-sync/internal/middleware"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook receiver and gRPC feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	c, err := newContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.migrate(ctx); err != nil {
		return err
	}

	rl := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	defer rl.Close()

	h := handler.New(handler.Deps{
		Connections:  c.credentials,
		Syncer:       c.poller,
		Registrar:    c.registrar,
		Webhooks:     c.receiver,
		Distributor:  c.distributor,
		Appointments: c.repo,
		Limiter:      rl,
		Logger:       logger,
		Secret:       cfg.JWTSecret,
		RedirectURL:  cfg.ProviderRedirectURL,
		SuccessURL:   cfg.OAuthSuccessURL,
		ErrorURL:     cfg.OAuthErrorURL,
	})
	e := h.Echo()
	grpcSrv := feed.NewGRPCServer(feed.NewServer(c.distributor, logger), cfg.JWTSecret, rl)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	if cfg.SweepSchedule != "" {
		if err := c.scheduler.Start(ctx, cfg.SweepSchedule); err != nil {
			return err
		}
		defer c.scheduler.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.bus.Run(ctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.GRPCAddr).Msg("grpc feed listening")
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := e.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown")
		}
		grpcSrv.GracefulStop()
		return nil
	})
	return g.Wait()
}
