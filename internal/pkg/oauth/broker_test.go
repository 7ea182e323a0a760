package oauth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 13})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBroker(rdb, appOrigin)
}

func testState(t *testing.T) string {
	return fmt.Sprintf("broker-test-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestBrokerCloseAfterSuccessKeepsSuccess(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	state := testState(t)
	defer b.Forget(ctx, state)

	require.NoError(t, b.Publish(ctx, state, Message{Type: MessageSuccess, Platform: "google_drive", Origin: appOrigin}))
	require.NoError(t, b.Publish(ctx, state, Message{Type: MessageClosed, Platform: "google_drive", Origin: appOrigin}))

	msg, err := b.Await(ctx, state, "google_drive", time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageSuccess, msg.Type)
}

func TestBrokerCloseAfterErrorKeepsError(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	state := testState(t)
	defer b.Forget(ctx, state)

	require.NoError(t, b.Publish(ctx, state, Message{Type: MessageError, Error: "auth_error", Origin: appOrigin}))
	require.NoError(t, b.Publish(ctx, state, Message{Type: MessageClosed, Origin: appOrigin}))

	msg, err := b.Await(ctx, state, "dropbox", time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageError, msg.Type)
	assert.Equal(t, "auth_error", msg.Error)
}

func TestBrokerCloseWithoutOutcomeCancels(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	state := testState(t)
	defer b.Forget(ctx, state)

	require.NoError(t, b.Publish(ctx, state, Message{Type: MessageClosed, Origin: appOrigin}))

	msg, err := b.Await(ctx, state, "dropbox", time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageClosed, msg.Type)
}

func TestBrokerDeliversToLiveWaiter(t *testing.T) {
	b := newTestBroker(t)
	ctx := context.Background()
	state := testState(t)
	defer b.Forget(ctx, state)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = b.Publish(ctx, state, Message{Type: MessageSuccess, Platform: "dropbox", Origin: appOrigin})
	}()
	msg, err := b.Await(ctx, state, "dropbox", 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, MessageSuccess, msg.Type)
}
