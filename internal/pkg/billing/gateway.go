package billing

import (
	"context"
	"time"
)

// Checkout is a hosted checkout page. ID doubles as the opaque payment token
// the gateway hands back on the callback.
type Checkout struct {
	ID        string    `json:"token"`
	URL       string    `json:"url"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

type CheckoutRequest struct {
	UserID     uint
	Purchase   Purchase
	SuccessURL string
	CancelURL  string
}

// Verification is the gateway's answer for one token.
type Verification struct {
	Token     string
	Paid      bool
	UserRef   string
	Reference string
}

// Gateway is the payment provider. Verify returns a categorized payment
// error when the payment did not go through.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	Verify(ctx context.Context, token string) (*Verification, error)
}
