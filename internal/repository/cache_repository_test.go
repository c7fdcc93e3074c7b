package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/rtdacademy/pasi-sync-api/pkg/errors"
)

func TestCacheGetWithoutRedisMisses(t *testing.T) {
	repo := NewCacheRepository(nil, zap.NewNop())

	var dest map[string]int
	err := repo.Get(context.Background(), "pasi:course_map", &dest)
	require.ErrorIs(t, err, appErrors.ErrCacheMiss)
	require.NoError(t, repo.Set(context.Background(), "pasi:course_map", map[string]int{"ENG30": 89}, time.Minute))
}

func TestAcquireLockWithoutRedisStillExcludes(t *testing.T) {
	repo := NewCacheRepository(nil, zap.NewNop())
	ctx := context.Background()
	key := "pasi:sync:lock:23_24"

	ok, err := repo.AcquireLock(ctx, key, "token-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A concurrent run in the same process must be turned away.
	ok, err = repo.AcquireLock(ctx, key, "token-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// Another partition is unaffected.
	ok, err = repo.AcquireLock(ctx, "pasi:sync:lock:24_25", "token-c", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReleaseLockWithoutRedisChecksToken(t *testing.T) {
	repo := NewCacheRepository(nil, zap.NewNop())
	ctx := context.Background()
	key := "pasi:sync:lock:23_24"

	ok, err := repo.AcquireLock(ctx, key, "token-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// A stranger's token must not free the lock.
	require.NoError(t, repo.ReleaseLock(ctx, key, "token-b"))
	ok, err = repo.AcquireLock(ctx, key, "token-c", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, repo.ReleaseLock(ctx, key, "token-a"))
	ok, err = repo.AcquireLock(ctx, key, "token-c", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}
