package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const pgChannel = "appointments_changed"

// PostgresBus rides on LISTEN/NOTIFY so every process sharing the database
// sees writes made by the others.
type PostgresBus struct {
	*Hub
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgresBus(pool *pgxpool.Pool, logger zerolog.Logger) *PostgresBus {
	return &PostgresBus{
		Hub:    NewHub(),
		pool:   pool,
		logger: logger.With().Str("component", "notify.postgres").Logger(),
	}
}

func (b *PostgresBus) Publish(ctx context.Context, userID string) error {
	_, err := b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, pgChannel, userID)
	return err
}

func (b *PostgresBus) Run(ctx context.Context) error {
	delay := 100 * time.Millisecond
	for {
		err := b.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		b.logger.Warn().Err(err).Dur("retry_in", delay).Msg("listener dropped")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay < 5*time.Second {
			delay *= 2
		}
	}
}

func (b *PostgresBus) listen(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgChannel); err != nil {
		return err
	}
	b.logger.Debug().Msg("listening")
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		b.Dispatch(n.Payload)
	}
}
