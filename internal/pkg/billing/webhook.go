package billing

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
)

const eventCheckoutCompleted = "checkout.session.completed"

// HandleWebhook applies a checkout that completed while the user never came
// back to the callback page. Other event types are ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature, secret string) (*Outcome, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, apperror.Wrap(apperror.KindAuth, err, "invalid webhook signature")
	}
	if string(event.Type) != eventCheckoutCompleted {
		return nil, nil
	}

	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, apperror.Wrap(apperror.KindValidation, err, "malformed checkout event")
	}
	userID, err := strconv.ParseUint(cs.ClientReferenceID, 10, 64)
	if err != nil || userID == 0 {
		return nil, apperror.New(apperror.KindValidation, "checkout event without user reference")
	}
	log.Infof("[Billing] webhook %s for checkout %s", event.ID, cs.ID)
	return s.Complete(ctx, uint(userID), cs.ID)
}
