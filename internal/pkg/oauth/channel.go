package oauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	MessageSuccess = "oauth_success"
	MessageError   = "oauth_error"
	// MessageClosed is published when the client reports its popup closed.
	MessageClosed = "oauth_closed"
)

var ErrAwaitTimeout = errors.New("timed out waiting for authorization message")

// Message is the typed payload posted by the callback page.
type Message struct {
	Type     string `json:"type"`
	Platform string `json:"platform,omitempty"`
	Error    string `json:"error,omitempty"`
	Origin   string `json:"origin,omitempty"`
}

// MatchPlatform accepts success or error messages for one platform. Error
// messages carry no platform and always match.
func MatchPlatform(platform string) func(Message) bool {
	return func(m Message) bool {
		switch m.Type {
		case MessageSuccess:
			return m.Platform == "" || m.Platform == platform
		case MessageError:
			return true
		default:
			return false
		}
	}
}

// MessageChannel delivers cross-window messages to listeners, dropping any
// message whose origin is not allowlisted.
type MessageChannel struct {
	mu        sync.Mutex
	allowed   map[string]struct{}
	listeners map[*Listener]struct{}
}

func NewMessageChannel(allowedOrigins ...string) *MessageChannel {
	c := &MessageChannel{
		allowed:   make(map[string]struct{}, len(allowedOrigins)),
		listeners: make(map[*Listener]struct{}),
	}
	for _, o := range allowedOrigins {
		c.allowed[normalizeOrigin(o)] = struct{}{}
	}
	return c
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}

func (c *MessageChannel) Allowed(origin string) bool {
	_, ok := c.allowed[normalizeOrigin(origin)]
	return ok
}

// Post fans msg out to all listeners. It reports false when the origin check
// drops the message.
func (c *MessageChannel) Post(msg Message) bool {
	if !c.Allowed(msg.Origin) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for l := range c.listeners {
		select {
		case l.ch <- msg:
		default:
		}
	}
	return true
}

// Listener buffers messages from the moment it is created.
type Listener struct {
	parent *MessageChannel
	ch     chan Message
	once   sync.Once
}

func (c *MessageChannel) Listen() *Listener {
	l := &Listener{parent: c, ch: make(chan Message, 16)}
	c.mu.Lock()
	c.listeners[l] = struct{}{}
	c.mu.Unlock()
	return l
}

func (l *Listener) Close() {
	l.once.Do(func() {
		l.parent.mu.Lock()
		delete(l.parent.listeners, l)
		l.parent.mu.Unlock()
	})
}

// Await returns the first message accepted by match. A zero timeout waits
// until ctx ends. Messages already buffered win over a cancelled ctx.
func (l *Listener) Await(ctx context.Context, match func(Message) bool, timeout time.Duration) (Message, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		select {
		case msg := <-l.ch:
			if match == nil || match(msg) {
				return msg, nil
			}
		case <-deadline:
			return Message{}, ErrAwaitTimeout
		case <-ctx.Done():
			for {
				select {
				case msg := <-l.ch:
					if match == nil || match(msg) {
						return msg, nil
					}
				default:
					return Message{}, ctx.Err()
				}
			}
		}
	}
}

// Await listens, waits for one matching message and stops listening.
func (c *MessageChannel) Await(ctx context.Context, match func(Message) bool, timeout time.Duration) (Message, error) {
	l := c.Listen()
	defer l.Close()
	return l.Await(ctx, match, timeout)
}
