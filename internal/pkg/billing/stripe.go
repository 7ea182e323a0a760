package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/env"
)

const metadataReference = "reference"

// StripeGateway runs checkout through Stripe Checkout sessions.
type StripeGateway struct {
	api *client.API
	// Prices maps a purchase reference to a Stripe price id.
	Prices map[string]string
}

func NewStripeGateway(secretKey string, prices map[string]string, backends *stripe.Backends) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, backends), Prices: prices}
}

// NewStripeGatewayFromEnv reads STRIPE_SECRET_KEY and STRIPE_PRICE_<REFERENCE>.
func NewStripeGatewayFromEnv() (*StripeGateway, error) {
	key := env.GetEnv("STRIPE_SECRET_KEY", "")
	if key == "" {
		return nil, errors.New("STRIPE_SECRET_KEY is not set")
	}
	prices := map[string]string{}
	for _, ref := range []string{"pro", "business", "credits_20", "credits_100", "credits_500"} {
		if id := env.GetEnv("STRIPE_PRICE_"+strings.ToUpper(ref), ""); id != "" {
			prices[ref] = id
		}
	}
	return NewStripeGateway(key, prices, nil), nil
}

func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	price, ok := g.Prices[req.Purchase.Reference]
	if !ok {
		return nil, apperror.Newf(apperror.KindValidation, "%s is not for sale", req.Purchase.Reference)
	}
	mode := stripe.CheckoutSessionModePayment
	if req.Purchase.IsSubscription() {
		mode = stripe.CheckoutSessionModeSubscription
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(mode)),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(strconv.FormatUint(uint64(req.UserID), 10)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(price), Quantity: stripe.Int64(1)},
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataReference, req.Purchase.Reference)

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, CategorizeStripeError(err)
	}
	log.Infof("[Billing] checkout %s created for user %d (%s)", s.ID, req.UserID, req.Purchase.Reference)
	return &Checkout{ID: s.ID, URL: s.URL, Reference: req.Purchase.Reference, CreatedAt: time.Now()}, nil
}

func (g *StripeGateway) Verify(ctx context.Context, token string) (*Verification, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.CheckoutSessions.Get(token, params)
	if err != nil {
		return nil, CategorizeStripeError(err)
	}
	return verificationFromSession(s)
}

func verificationFromSession(s *stripe.CheckoutSession) (*Verification, error) {
	v := &Verification{Token: s.ID, UserRef: s.ClientReferenceID, Reference: s.Metadata[metadataReference]}
	switch {
	case s.Status == stripe.CheckoutSessionStatusExpired:
		return nil, apperror.New(apperror.KindPaymentCancelled, "")
	case s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		s.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		v.Paid = true
		return v, nil
	default:
		// Still open or processing; the caller may retry.
		return nil, apperror.New(apperror.KindPaymentFailed, "payment not completed yet")
	}
}

// CategorizeStripeError maps stripe-go errors onto the payment kinds.
func CategorizeStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return apperror.Categorize(err)
	}
	switch {
	case string(se.DeclineCode) == "insufficient_funds":
		return apperror.Wrap(apperror.KindInsufficientFunds, err, "")
	case se.Type == stripe.ErrorTypeCard:
		return apperror.Wrap(apperror.KindInvalidCard, err, "")
	case se.HTTPStatusCode == http.StatusUnauthorized:
		return apperror.Wrap(apperror.KindAuth, err, "payment gateway rejected the credentials")
	case se.HTTPStatusCode == http.StatusNotFound:
		return apperror.Wrap(apperror.KindNotFound, err, "unknown payment")
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500:
		return apperror.Wrap(apperror.KindNetwork, err, "payment gateway unavailable")
	case se.Type == stripe.ErrorTypeInvalidRequest:
		return apperror.Wrap(apperror.KindValidation, err, fmt.Sprintf("payment request rejected: %s", se.Msg))
	default:
		return apperror.Wrap(apperror.KindPaymentFailed, err, "")
	}
}
