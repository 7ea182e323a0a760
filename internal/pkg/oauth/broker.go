package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	brokerPrefix    = "oauth:handshake:"
	brokerResultTTL = 10 * time.Minute
)

// Broker carries popup messages between the callback request and the
// long-poll request waiting for them, which may run on different instances.
type Broker struct {
	rdb     *redis.Client
	origins []string
}

func NewBroker(rdb *redis.Client, allowedOrigins ...string) *Broker {
	return &Broker{rdb: rdb, origins: allowedOrigins}
}

func channelKey(state string) string { return brokerPrefix + state }
func resultKey(state string) string  { return brokerPrefix + state + ":result" }

// Publish stores msg for late waiters and notifies current ones. A closed
// popup only counts while no outcome is stored: the callback page closes
// itself right after posting, and that close must not turn a finished
// handshake into a cancelled one.
func (b *Broker) Publish(ctx context.Context, state string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal handshake message: %w", err)
	}
	if msg.Type == MessageClosed {
		stored, err := b.rdb.SetNX(ctx, resultKey(state), data, brokerResultTTL).Result()
		if err != nil {
			return err
		}
		if !stored {
			log.Debugf("[OAuth] ignoring close of an already decided handshake")
			return nil
		}
	} else if err := b.rdb.Set(ctx, resultKey(state), data, brokerResultTTL).Err(); err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channelKey(state), data).Err()
}

// Await waits for the message of one handshake. Messages pass through a
// MessageChannel so the origin allowlist applies here as well.
func (b *Broker) Await(ctx context.Context, state, platform string, timeout time.Duration) (Message, error) {
	ch := NewMessageChannel(b.origins...)
	listener := ch.Listen()
	defer listener.Close()

	sub := b.rdb.Subscribe(ctx, channelKey(state))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return Message{}, err
	}

	deliver := func(raw string) {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			log.Warnf("[OAuth] dropping malformed handshake message: %v", err)
			return
		}
		if !ch.Post(msg) {
			log.Warnf("[OAuth] dropping handshake message from origin %q", msg.Origin)
		}
	}

	// published before we subscribed
	if raw, err := b.rdb.Get(ctx, resultKey(state)).Result(); err == nil {
		deliver(raw)
	} else if !errors.Is(err, redis.Nil) {
		return Message{}, err
	}

	go func() {
		for m := range sub.Channel() {
			deliver(m.Payload)
		}
	}()

	match := func(m Message) bool {
		return m.Type == MessageClosed || MatchPlatform(platform)(m)
	}
	return listener.Await(ctx, match, timeout)
}

// Forget removes a stored result once the client has consumed it.
func (b *Broker) Forget(ctx context.Context, state string) error {
	return b.rdb.Del(ctx, resultKey(state)).Err()
}
