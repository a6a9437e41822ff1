package tokencache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aussiebroadwan/graphauth/pkg/tokencache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// exerciseStore runs the contract every Store implementation must meet.
func exerciseStore(t *testing.T, s tokencache.Store[tokencache.Entry]) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	entry := tokencache.Entry{
		Key:           testKey.String(),
		Token:         token("T1", "R1", now, time.Hour),
		HomeAccountID: "oid.tid",
	}
	require.NoError(t, s.Store(ctx, testKey.String(), entry))

	got, ok, err := s.Get(ctx, testKey.String())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "T1", got.Token.AccessToken)
	require.Equal(t, "R1", got.Token.RefreshToken)
	require.True(t, got.Token.ExpiresAt.Equal(entry.Token.ExpiresAt))
	require.Equal(t, "oid.tid", got.HomeAccountID)

	evicted, ok, err := s.Evict(ctx, testKey.String())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "T1", evicted.Token.AccessToken)

	_, ok, err = s.Get(ctx, testKey.String())
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.Evict(ctx, testKey.String())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	s := tokencache.NewMemoryStore[tokencache.Entry]()
	exerciseStore(t, s)
	require.Zero(t, s.Len())
}

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })

	store := tokencache.NewRedisStore[tokencache.Entry](client, tokencache.WithPrefix("test:"), tokencache.WithTTL(time.Hour))
	exerciseStore(t, store)

	// Values land under the prefix with the configured TTL
	require.NoError(t, store.Store(ctx, "k", tokencache.Entry{Key: "k"}))
	ttl, err := client.TTL(ctx, "test:k").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, 59*time.Minute)

	// Two caches over one Redis see each other's tokens
	first := newCache(tokencache.WithStore(store))
	second := newCache(tokencache.WithStore(store))
	require.NoError(t, first.Store(ctx, testKey, token("shared", "R", time.Now(), time.Hour)))

	tok, ok, err := second.Get(ctx, testKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "shared", tok.AccessToken)
}
