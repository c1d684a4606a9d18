package repository_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/findx/internal/marketplace/domain"
	"github.com/example/findx/internal/marketplace/repository"
)

func TestPostgresRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()
	pg, err := postgrescontainer.Run(ctx, "postgres:16",
		postgrescontainer.WithDatabase("findx"),
		postgrescontainer.WithUsername("postgres"),
		postgrescontainer.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2)))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, pg.Terminate(ctx)) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := repository.NewPostgresRepository(db)
	require.NoError(t, repo.Migrate(ctx))
	// idempotent
	require.NoError(t, repo.Migrate(ctx))

	runRepositorySuite(t, func(t *testing.T) domain.Repository {
		_, err := db.ExecContext(ctx, `TRUNCATE messages, bookings, offers, identities, outbox`)
		require.NoError(t, err)
		return repo
	})

	t.Run("outbox writer", func(t *testing.T) {
		writer := repository.NewOutboxWriter(db, "marketplace.events")
		require.NoError(t, writer.Publish(ctx, domain.Event{Type: domain.EventOfferCreated}))
		var (
			topic     string
			published bool
		)
		require.NoError(t, db.QueryRowContext(ctx, `SELECT topic, published FROM outbox ORDER BY id DESC LIMIT 1`).Scan(&topic, &published))
		require.Equal(t, "marketplace.events", topic)
		require.False(t, published)
	})
}
