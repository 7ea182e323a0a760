package oauth

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrWindowClosed = errors.New("authorization window closed")

// Window is the popup handle.
type Window interface {
	Closed() bool
	Close()
}

// WatchClosed derives a context that is cancelled with ErrWindowClosed as
// its cause once w reports closed. stop releases the poller.
func WatchClosed(parent context.Context, w Window, interval time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if w.Closed() {
					cancel(ErrWindowClosed)
					return
				}
			}
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// FlagWindow is a Window whose closed flag is set explicitly, used when the
// client reports the popup state over HTTP.
type FlagWindow struct {
	closed chan struct{}
	once   sync.Once
}

func NewFlagWindow() *FlagWindow {
	return &FlagWindow{closed: make(chan struct{})}
}

func (w *FlagWindow) Closed() bool {
	select {
	case <-w.closed:
		return true
	default:
		return false
	}
}

func (w *FlagWindow) Close() {
	w.once.Do(func() { close(w.closed) })
}
