package pgstore_test

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/coachkit/pkg/billing/pgstore"
	"github.com/dmitrymomot/coachkit/pkg/billing/storetest"
	"github.com/dmitrymomot/coachkit/pkg/pg"
)

// Runs against a real database when PG_CONN_URL is set.
func TestStore(t *testing.T) {
	connURL := os.Getenv("PG_CONN_URL")
	if connURL == "" {
		t.Skip("PG_CONN_URL is not set")
	}

	ctx := context.Background()
	cfg := pg.Config{
		ConnectionString: connURL,
		MaxConns:         4,
		MinConns:         1,
		RetryAttempts:    1,
		MigrationsTable:  "coachkit_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, pg.Migrate(ctx, pool, cfg, pgstore.Migrations(), log))

	store := pgstore.New(pool)
	storetest.Run(t, func(*testing.T) storetest.Store { return store })
}

func TestMigrations(t *testing.T) {
	t.Parallel()

	names, err := fs.Glob(pgstore.Migrations(), "*.sql")
	require.NoError(t, err)
	require.Contains(t, names, "00001_billing.sql")
}
