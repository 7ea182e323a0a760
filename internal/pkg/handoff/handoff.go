// Package handoff is a small per-session key-value store that carries state
// across a page reload or between a popup and the window that opened it.
// Every key has exactly one writer and exactly one consumer; Take reads and
// clears in one step.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Key string

const (
	PendingPaymentToken     Key = "pending_payment_token"
	PendingPaymentTimestamp Key = "pending_payment_timestamp"
	PendingPaymentPlan      Key = "pending_payment_plan"
	CompletedPaymentToken   Key = "completed_payment_token"
	CurrentView             Key = "current_view"
	PendingUploadedImage    Key = "pending_uploaded_image"
)

// Handler names used as owners and consumers.
const (
	CheckoutStart   = "HandleCheckoutStart"
	PaymentCallback = "HandlePaymentCallback"
	PaymentStatus   = "HandlePaymentStatus"
	SaveView        = "HandleSaveView"
	RestoreView     = "HandleRestoreView"
	StashUpload     = "HandleStashUpload"
	ClaimUpload     = "HandleClaimUpload"
)

type Slot struct {
	Owner    string
	Consumer string
}

var Slots = map[Key]Slot{
	PendingPaymentToken:     {Owner: CheckoutStart, Consumer: PaymentCallback},
	PendingPaymentTimestamp: {Owner: CheckoutStart, Consumer: PaymentCallback},
	PendingPaymentPlan:      {Owner: CheckoutStart, Consumer: PaymentCallback},
	CompletedPaymentToken:   {Owner: PaymentCallback, Consumer: PaymentStatus},
	CurrentView:             {Owner: SaveView, Consumer: RestoreView},
	PendingUploadedImage:    {Owner: StashUpload, Consumer: ClaimUpload},
}

const (
	DefaultTTL   = 30 * time.Minute
	MaxValueSize = 8 << 20
)

var (
	ErrUnknownKey = errors.New("unknown handoff key")
	ErrNotOwner   = errors.New("caller does not own this handoff key")
	ErrTooLarge   = errors.New("handoff value too large")
)

// Backend stores raw values. Take must read and delete atomically.
type Backend interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Take(ctx context.Context, key string) (string, bool, error)
}

// KV enforces the owner and consumer of every key on top of a Backend.
type KV struct {
	backend Backend
	ttl     time.Duration
}

func New(backend Backend, ttl time.Duration) *KV {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &KV{backend: backend, ttl: ttl}
}

func storageKey(namespace string, key Key) string {
	return fmt.Sprintf("handoff:%s:%s", namespace, key)
}

func check(key Key, caller string, owner bool) error {
	slot, ok := Slots[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	want := slot.Consumer
	if owner {
		want = slot.Owner
	}
	if caller != want {
		return fmt.Errorf("%w: %s may not access %s", ErrNotOwner, caller, key)
	}
	return nil
}

// Put writes value under key for the session namespace, replacing any
// previous value.
func (kv *KV) Put(ctx context.Context, owner, namespace string, key Key, value string) error {
	if err := check(key, owner, true); err != nil {
		return err
	}
	if len(value) > MaxValueSize {
		return ErrTooLarge
	}
	return kv.backend.Set(ctx, storageKey(namespace, key), value, kv.ttl)
}

// Take returns the value and clears it. A second Take finds nothing.
func (kv *KV) Take(ctx context.Context, consumer, namespace string, key Key) (string, bool, error) {
	if err := check(key, consumer, false); err != nil {
		return "", false, err
	}
	return kv.backend.Take(ctx, storageKey(namespace, key))
}
