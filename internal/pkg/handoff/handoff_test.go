package handoff

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryKeyHasOneOwnerAndConsumer(t *testing.T) {
	for key, slot := range Slots {
		assert.NotEmpty(t, slot.Owner, key)
		assert.NotEmpty(t, slot.Consumer, key)
		assert.NotEqual(t, slot.Owner, slot.Consumer, key)
	}
	assert.Len(t, Slots, 6)
}

func TestPutTakeClears(t *testing.T) {
	kv := New(NewMemory(), time.Minute)
	ctx := context.Background()

	require.NoError(t, kv.Put(ctx, CheckoutStart, "sess-1", PendingPaymentToken, "cs_1"))

	v, ok, err := kv.Take(ctx, PaymentCallback, "sess-1", PendingPaymentToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "cs_1", v)

	_, ok, err = kv.Take(ctx, PaymentCallback, "sess-1", PendingPaymentToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNamespacesAreIsolated(t *testing.T) {
	kv := New(NewMemory(), time.Minute)
	ctx := context.Background()
	require.NoError(t, kv.Put(ctx, SaveView, "a", CurrentView, "gallery"))

	_, ok, err := kv.Take(ctx, RestoreView, "b", CurrentView)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOwnershipEnforced(t *testing.T) {
	kv := New(NewMemory(), time.Minute)
	ctx := context.Background()

	err := kv.Put(ctx, PaymentCallback, "s", PendingPaymentToken, "x")
	assert.ErrorIs(t, err, ErrNotOwner)

	_, _, err = kv.Take(ctx, CheckoutStart, "s", PendingPaymentToken)
	assert.ErrorIs(t, err, ErrNotOwner)

	err = kv.Put(ctx, CheckoutStart, "s", Key("theme"), "dark")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestMemoryExpiry(t *testing.T) {
	mem := NewMemory()
	now := time.Unix(1000, 0)
	mem.now = func() time.Time { return now }
	kv := New(mem, time.Minute)
	ctx := context.Background()

	require.NoError(t, kv.Put(ctx, StashUpload, "s", PendingUploadedImage, "users/1/uploads/a.png"))
	now = now.Add(2 * time.Minute)
	_, ok, err := kv.Take(ctx, ClaimUpload, "s", PendingUploadedImage)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentTakeHasOneWinner(t *testing.T) {
	kv := New(NewMemory(), time.Minute)
	ctx := context.Background()
	require.NoError(t, kv.Put(ctx, PaymentCallback, "s", CompletedPaymentToken, "cs_1"))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := kv.Take(ctx, PaymentStatus, "s", CompletedPaymentToken); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestRedisBackend(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer rdb.Close()

	kv := New(NewRedis(rdb), time.Minute)
	ns := fmt.Sprintf("test-%d", time.Now().UnixNano())
	require.NoError(t, kv.Put(ctx, SaveView, ns, CurrentView, "projects"))

	v, ok, err := kv.Take(ctx, RestoreView, ns, CurrentView)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "projects", v)

	_, ok, err = kv.Take(ctx, RestoreView, ns, CurrentView)
	require.NoError(t, err)
	assert.False(t, ok)
}
