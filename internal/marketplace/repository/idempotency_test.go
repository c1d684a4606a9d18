package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/findx/internal/marketplace/domain"
	"github.com/example/findx/internal/marketplace/repository"
)

func exerciseIdempotency(t *testing.T, repo domain.IdempotencyRepository) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := repo.GetResponse(ctx, "actor:key")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, repo.PutResponse(ctx, "actor:key", []byte(`{"id":1}`)))
	require.NoError(t, repo.PutResponse(ctx, "actor:key", []byte(`{"id":2}`)))

	got, ok, err := repo.GetResponse(ctx, "actor:key")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"id":1}`, string(got))

	_, ok, err = repo.GetResponse(ctx, "other:key")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryIdempotencyFirstWriteWins(t *testing.T) {
	exerciseIdempotency(t, repository.NewMemoryIdempotencyRepo())
}

func TestRedisIdempotencyFirstWriteWins(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseIdempotency(t, repository.NewRedisIdempotencyRepo(client, "", time.Hour))
	require.True(t, mr.Exists("idem:booking:actor:key"))
}

func TestRedisIdempotencyEntriesExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := repository.NewRedisIdempotencyRepo(client, "test:", time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.PutResponse(ctx, "k", []byte("v")))
	require.Equal(t, time.Minute, mr.TTL("test:k"))

	mr.FastForward(2 * time.Minute)
	_, ok, err := repo.GetResponse(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}
