package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/metrics"
)

type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseInitiating       Phase = "initiating"
	PhaseAwaitingProvider Phase = "awaiting_provider"
	PhaseExchanging       Phase = "exchanging"
	PhaseConnected        Phase = "connected"
	PhaseFailed           Phase = "failed"
	PhaseCancelled        Phase = "cancelled"
)

var transitions = map[Phase][]Phase{
	PhaseIdle:             {PhaseInitiating},
	PhaseInitiating:       {PhaseAwaitingProvider, PhaseFailed},
	PhaseAwaitingProvider: {PhaseExchanging, PhaseFailed, PhaseCancelled},
	PhaseExchanging:       {PhaseConnected, PhaseFailed},
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseConnected || p == PhaseFailed || p == PhaseCancelled
}

// Handshake tracks one connection attempt through its phases.
type Handshake struct {
	mu       sync.Mutex
	platform string
	state    string
	phase    Phase
	err      error
}

func NewHandshake(platform string) *Handshake {
	return &Handshake{platform: platform, phase: PhaseIdle}
}

func (h *Handshake) Phase() Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// Err is the failure or cancellation that ended the handshake, if any.
func (h *Handshake) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handshake) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handshake) transition(to Phase, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, allowed := range transitions[h.phase] {
		if allowed == to {
			h.phase = to
			if err != nil {
				h.err = err
			}
			if to.Terminal() {
				metrics.OAuthFinished(h.platform, string(to))
			}
			return nil
		}
	}
	return fmt.Errorf("invalid handshake transition %s -> %s", h.phase, to)
}

// fail moves to failed from any non-terminal phase.
func (h *Handshake) fail(err error) error {
	_ = h.transition(PhaseFailed, err)
	return err
}

// Opener opens the authorization URL in a popup window.
type Opener interface {
	Open(ctx context.Context, url string) (Window, error)
}

// PopupFlow drives a handshake through the popup transport.
type PopupFlow struct {
	// Initiate asks the server for the authorization URL.
	Initiate func(ctx context.Context) (*Authorization, error)
	Opener   Opener
	Messages *MessageChannel
	// Verify runs in the exchanging phase and confirms the connection exists.
	Verify       func(ctx context.Context) error
	Timeout      time.Duration
	PollInterval time.Duration
}

// Run blocks until the handshake reaches a terminal phase. A popup closed
// before any message ends in cancelled, never failed.
func (f *PopupFlow) Run(ctx context.Context, h *Handshake) error {
	if err := h.transition(PhaseInitiating, nil); err != nil {
		return err
	}
	auth, err := f.Initiate(ctx)
	if err != nil {
		return h.fail(err)
	}
	h.mu.Lock()
	h.state = auth.State
	h.mu.Unlock()

	// listen before the popup exists so an immediate reply is not lost
	listener := f.Messages.Listen()
	defer listener.Close()

	win, err := f.Opener.Open(ctx, auth.URL)
	if err != nil {
		return h.fail(apperror.Wrap(apperror.KindUnknown, err, "could not open authorization window"))
	}
	defer win.Close()
	if err := h.transition(PhaseAwaitingProvider, nil); err != nil {
		return err
	}

	interval := f.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	watchCtx, stop := WatchClosed(ctx, win, interval)
	defer stop()

	msg, err := listener.Await(watchCtx, MatchPlatform(h.platform), f.Timeout)
	if err != nil {
		if errors.Is(context.Cause(watchCtx), ErrWindowClosed) {
			cancelled := apperror.New(apperror.KindOAuthCancelled, "")
			_ = h.transition(PhaseCancelled, cancelled)
			log.Infof("[OAuth] %s authorization cancelled by user", h.platform)
			return cancelled
		}
		return h.fail(apperror.Categorize(err))
	}

	if msg.Type == MessageError {
		return h.fail(apperror.New(apperror.KindAuth, msg.Error))
	}
	if err := h.transition(PhaseExchanging, nil); err != nil {
		return err
	}
	if f.Verify != nil {
		if err := f.Verify(ctx); err != nil {
			return h.fail(apperror.Categorize(err))
		}
	}
	return h.transition(PhaseConnected, nil)
}
