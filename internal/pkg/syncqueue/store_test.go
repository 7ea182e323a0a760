package syncqueue

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, s.Append(ctx, change(id)))
	}
	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "1", list[0].ID)
	assert.Equal(t, "3", list[2].ID)

	c := list[1]
	c.AttemptCount = 4
	require.NoError(t, s.Update(ctx, c))
	assert.ErrorIs(t, s.Update(ctx, change("missing")), ErrChangeNotFound)

	require.NoError(t, s.Remove(ctx, "1"))
	list, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2", list[0].ID)
	assert.Equal(t, 4, list[0].AttemptCount)

	now := time.Now().UTC()
	require.NoError(t, s.AddFailure(ctx, Failure{Change: change("x"), Kind: apperror.KindValidation, Message: "bad", FailedAt: now}))
	require.NoError(t, s.AddFailure(ctx, Failure{Change: change("y"), Kind: apperror.KindAuth, Message: "nope", FailedAt: now.Add(time.Second)}))
	failures, err := s.Failures(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "x", failures[0].Change.ID)

	require.NoError(t, s.DismissFailure(ctx, "x"))
	failures, err = s.Failures(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "y", failures[0].Change.ID)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue", "pending.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()
	list, err := reopened.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2, "pending changes survive a restart")
}

func TestRedisStore(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 14})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer rdb.Close()

	s := NewRedisStore(rdb, fmt.Sprintf("syncqueue-test-%d:", time.Now().UnixNano()))
	exerciseStore(t, s)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats["queued"])
	assert.Equal(t, int64(2), stats["failed"])
}
