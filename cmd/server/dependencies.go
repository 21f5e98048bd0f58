package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"appointment-sync/internal/config"
	"appointment-sync/internal/credentials"
	"appointment-sync/internal/distributor"
	"appointment-sync/internal/notify"
	"appointment-sync/internal/poller"
	"appointment-sync/internal/provider"
	"appointment-sync/internal/reconcile"
	"appointment-sync/internal/registrar"
	"appointment-sync/internal/scheduler"
	"appointment-sync/internal/store"
	"appointment-sync/internal/tokenseal"
	"appointment-sync/internal/webhook"
)

type repository interface {
	credentials.Store
	reconcile.Store
	distributor.Lister
	scheduler.Users
}

// container holds every wired component for one process.
type container struct {
	pool  *pgxpool.Pool
	redis *redis.Client
	repo  repository
	bus   notify.Bus

	client      *provider.Client
	credentials *credentials.Service
	reconciler  *reconcile.Reconciler
	poller      *poller.Poller
	registrar   *registrar.Registrar
	receiver    *webhook.Receiver
	distributor *distributor.Distributor
	scheduler   *scheduler.Scheduler
}

func newContainer(ctx context.Context, cfg config.Config) (*container, error) {
	c := &container{}
	if err := c.openStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err := c.openBus(cfg); err != nil {
		c.Close()
		return nil, err
	}

	client, err := provider.New(provider.Options{
		BaseURL:           cfg.ProviderAPIURL,
		AuthURL:           cfg.ProviderAuthURL,
		ClientID:          cfg.ProviderClientID,
		ClientSecret:      cfg.ProviderClientSecret,
		RedirectURL:       cfg.ProviderRedirectURL,
		WebhookSigningKey: cfg.WebhookSigningKey,
		Timeout:           cfg.ProviderTimeout,
		RequestsPerSecond: cfg.ProviderRPS,
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	c.client = client

	c.credentials = credentials.New(c.repo, client, logger)
	c.reconciler = reconcile.New(c.repo, c.bus, logger)
	c.poller = poller.New(c.credentials, client, c.reconciler, logger)
	c.registrar = registrar.New(c.credentials, client, cfg.PublicBaseURL, logger)
	c.receiver = webhook.NewReceiver(&webhook.Verifier{
		Key:           cfg.WebhookSigningKey,
		AllowUnsigned: cfg.WebhookAllowUnsigned,
		Tolerance:     cfg.WebhookTolerance,
	}, c.credentials, client, c.reconciler, logger)
	c.distributor = distributor.New(c.bus, c.repo, c.poller, logger)
	c.scheduler = scheduler.New(c.repo, c.poller, logger)
	return c, nil
}

func (c *container) openStore(ctx context.Context, cfg config.Config) error {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set; using in-memory store")
		c.repo = store.NewMemory()
		return nil
	}
	sealer, err := tokenseal.New(cfg.TokenEncryptionKey)
	if err != nil {
		return fmt.Errorf("TOKEN_ENCRYPTION_KEY: %w", err)
	}
	if !sealer.Enabled() {
		logger.Warn().Msg("TOKEN_ENCRYPTION_KEY not set; provider tokens are stored in plain text")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("db ping: %w", err)
	}
	logger.Info().Msg("connected to postgres")
	c.pool = pool
	c.repo = store.New(pool, sealer)
	return nil
}

func (c *container) openBus(cfg config.Config) error {
	switch cfg.NotifyBackend {
	case config.NotifyPostgres:
		if c.pool == nil {
			return errors.New("NOTIFY_BACKEND=postgres needs DATABASE_URL")
		}
		c.bus = notify.NewPostgresBus(c.pool, logger)
	case config.NotifyRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
		c.redis = redis.NewClient(opts)
		c.bus = notify.NewRedisBus(c.redis, "", logger)
	default:
		c.bus = notify.NewHub()
	}
	return nil
}

// migrate applies the schema when a database is configured.
func (c *container) migrate(ctx context.Context) error {
	st, ok := c.repo.(*store.Store)
	if !ok {
		return nil
	}
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Msg("migrations applied")
	return nil
}

func (c *container) Close() {
	if c.receiver != nil {
		c.receiver.Close()
	}
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
}
