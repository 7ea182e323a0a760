package controllers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/handoff"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/oauth"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/session"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/usercontext"
)

const paymentCallbackPath = "/payments/callback"

type checkoutRequest struct {
	Plan string `json:"plan" validate:"required,max=50"`
}

// HandleCheckoutStart opens a hosted checkout and remembers the pending
// token for the callback after the redirect.
func HandleCheckoutStart(c *fiber.Ctx) error {
	var req checkoutRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	ctx := c.UserContext()
	success := deps.BaseURL + paymentCallbackPath + "?session_id={CHECKOUT_SESSION_ID}"
	cancel := deps.BaseURL + paymentCallbackPath + "?cancelled=true"

	co, err := deps.Billing.StartCheckout(ctx, currentUserID(c), req.Plan, success, cancel)
	if err != nil {
		return respondError(c, err)
	}

	ns := handoffNamespace(c)
	pending := map[handoff.Key]string{
		handoff.PendingPaymentToken:     co.ID,
		handoff.PendingPaymentTimestamp: strconv.FormatInt(deps.Now().Unix(), 10),
		handoff.PendingPaymentPlan:      co.Reference,
	}
	for key, value := range pending {
		if err := deps.Handoff.Put(ctx, handoff.CheckoutStart, ns, key, value); err != nil {
			return respondError(c, apperror.Wrap(apperror.KindStorage, err, "could not remember the checkout"))
		}
	}
	return c.JSON(co)
}

// HandlePaymentCallback is the return URL of the hosted checkout.
func HandlePaymentCallback(c *fiber.Ctx) error {
	ctx := c.UserContext()
	ns := handoffNamespace(c)

	pendingToken := takePending(ctx, ns, handoff.PendingPaymentToken)
	startedAt := takePending(ctx, ns, handoff.PendingPaymentTimestamp)
	plan := takePending(ctx, ns, handoff.PendingPaymentPlan)

	fail := func(kind apperror.Kind) error {
		return c.Redirect(oauth.RedirectURL(deps.BaseURL, oauth.RedirectResult{Error: string(kind)}), fiber.StatusSeeOther)
	}

	if c.Query("cancelled") == "true" {
		return fail(apperror.KindPaymentCancelled)
	}
	if !usercontext.IsLoggedIn(c) {
		return fail(apperror.KindAuth)
	}
	token := c.Query("session_id")
	if token == "" {
		token = pendingToken
	}
	if token == "" {
		return fail(apperror.KindValidation)
	}
	if pendingToken != "" && token != pendingToken {
		log.Warnf("[Billing] callback token differs from the pending checkout for user %d", currentUserID(c))
	}
	if age := checkoutAge(startedAt); age > 0 {
		log.Infof("[Billing] checkout %s returned after %s", token, age.Round(time.Second))
	}

	out, err := deps.Billing.Complete(ctx, currentUserID(c), token)
	if err != nil {
		return fail(apperror.Categorize(err).Kind)
	}

	if err := deps.Handoff.Put(context.WithoutCancel(ctx), handoff.PaymentCallback, ns, handoff.CompletedPaymentToken, token); err != nil {
		log.Warnf("[Billing] could not hand off completed payment: %v", err)
	}
	if out.Kind == models.PaymentKindPlan {
		if plan == "" {
			plan = out.Reference
		}
		if err := session.SetSessionValue(c, usercontext.KeyPlan, plan); err != nil {
			log.Warnf("[Billing] could not update session plan: %v", err)
		}
		if err := updateSettingsPlan(currentUserID(c), plan); err != nil {
			log.Errorf("[Billing] could not store plan %s for user %d: %v", plan, currentUserID(c), err)
		}
	}
	return c.Redirect(oauth.RedirectURL(deps.BaseURL, oauth.RedirectResult{Success: true, Token: token}), fiber.StatusSeeOther)
}

// takePending reads one value the checkout left behind. The callback works
// without it, so a failed read is only logged.
func takePending(ctx context.Context, ns string, key handoff.Key) string {
	v, _, err := deps.Handoff.Take(ctx, handoff.PaymentCallback, ns, key)
	if err != nil {
		log.Warnf("[Billing] reading %s: %v", key, err)
	}
	return v
}

// HandlePaymentStatus hands the completed token to the reloaded app once.
func HandlePaymentStatus(c *fiber.Ctx) error {
	token, ok, err := deps.Handoff.Take(c.UserContext(), handoff.PaymentStatus, handoffNamespace(c), handoff.CompletedPaymentToken)
	if err != nil {
		return respondError(c, apperror.Wrap(apperror.KindStorage, err, ""))
	}
	if !ok {
		return c.JSON(fiber.Map{"completed": false})
	}
	return c.JSON(fiber.Map{"completed": true, "token": token})
}

// HandleStripeWebhook applies checkouts the user never returned from.
func HandleStripeWebhook(c *fiber.Ctx) error {
	if deps.WebhookKey == "" {
		return respondError(c, apperror.New(apperror.KindNotFound, "webhooks are not configured"))
	}
	out, err := deps.Billing.HandleWebhook(c.UserContext(), c.Body(), c.Get("Stripe-Signature"), deps.WebhookKey)
	if err != nil {
		return respondError(c, err)
	}
	if out != nil && out.Kind == models.PaymentKindPlan && !out.AlreadyApplied && out.Ledger != nil {
		if err := updateSettingsPlan(out.Ledger.UserID, out.Reference); err != nil {
			log.Errorf("[Billing] could not store plan for user %d: %v", out.Ledger.UserID, err)
		}
	}
	return c.JSON(fiber.Map{"received": true})
}

func updateSettingsPlan(userID uint, plan string) error {
	settings, err := deps.Repos.User.GetOrCreateSettings(userID)
	if err != nil {
		return err
	}
	if settings.Plan == plan {
		return nil
	}
	settings.Plan = plan
	return deps.Repos.User.SaveSettings(settings)
}

func checkoutAge(unix string) time.Duration {
	sec, err := strconv.ParseInt(unix, 10, 64)
	if err != nil || sec <= 0 {
		return 0
	}
	return deps.Now().Sub(time.Unix(sec, 0))
}
