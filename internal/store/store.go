package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"appointment-sync/internal/tokenseal"
)

var ErrNotFound = errors.New("not found")

// Outcome is what an upsert did to the row.
type Outcome int

const (
	Unchanged Outcome = iota
	Inserted
	Updated
)

func (o Outcome) Changed() bool { return o != Unchanged }

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	}
	return "unchanged"
}

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	pool   *pgxpool.Pool
	sealer *tokenseal.Sealer
}

func New(pool *pgxpool.Pool, sealer *tokenseal.Sealer) *Store {
	if sealer == nil {
		sealer = &tokenseal.Sealer{}
	}
	return &Store{pool: pool, sealer: sealer}
}

func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Migrate applies every embedded migration in name order. The scripts are
// written to be re-runnable.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}
