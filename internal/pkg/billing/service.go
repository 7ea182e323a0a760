// Package billing runs hosted checkout and applies verified payments to the
// quota ledger exactly once per gateway token.
package billing

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/entitlements"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/metrics"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/retry"
)

const DefaultPlanPeriod = 30 * 24 * time.Hour

// Records is the idempotency store keyed by gateway token.
type Records interface {
	CreateIfNotExists(ctx context.Context, record *models.PaymentRecord) (bool, *models.PaymentRecord, error)
	GetByToken(ctx context.Context, token string) (*models.PaymentRecord, error)
	MarkCompleted(ctx context.Context, id uint) (bool, error)
	MarkFailed(ctx context.Context, id uint, reason string) error
}

// Ledger applies purchases. quota.Service implements it.
type Ledger interface {
	ResetPlan(ctx context.Context, userID uint, plan entitlements.Plan, periodEnd *time.Time) (*models.QuotaLedger, error)
	AddCredits(ctx context.Context, userID uint, credits int) (*models.QuotaLedger, error)
}

type Service struct {
	gateway Gateway
	records Records
	ledger  Ledger
	policy  retry.Policy
	period  time.Duration
	now     func() time.Time
}

// NewService wires the gateway with the payment records and the quota ledger.
// Verification is tried twice before giving up.
func NewService(gateway Gateway, records Records, ledger Ledger) *Service {
	p := retry.DefaultPolicy()
	p.MaxAttempts = 2
	return &Service{gateway: gateway, records: records, ledger: ledger, policy: p, period: DefaultPlanPeriod, now: time.Now}
}

func (s *Service) WithRetryPolicy(p retry.Policy) *Service {
	s.policy = p
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// StartCheckout opens a hosted checkout and records the pending token.
func (s *Service) StartCheckout(ctx context.Context, userID uint, reference, successURL, cancelURL string) (*Checkout, error) {
	purchase, ok := ResolvePurchase(reference)
	if !ok {
		return nil, apperror.Newf(apperror.KindValidation, "unknown plan or package %q", reference)
	}
	co, err := s.gateway.CreateCheckout(ctx, CheckoutRequest{
		UserID:     userID,
		Purchase:   purchase,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
	})
	if err != nil {
		return nil, err
	}
	rec := &models.PaymentRecord{
		Token:     co.ID,
		UserID:    userID,
		Kind:      purchase.Kind,
		Reference: purchase.Reference,
		Status:    models.PaymentStatusPending,
	}
	if _, _, err := s.records.CreateIfNotExists(ctx, rec); err != nil {
		return nil, apperror.Categorize(err)
	}
	return co, nil
}

// Outcome is what Complete did for a token.
type Outcome struct {
	Token          string              `json:"token"`
	Kind           string              `json:"kind"`
	Reference      string              `json:"reference"`
	AlreadyApplied bool                `json:"already_applied"`
	Ledger         *models.QuotaLedger `json:"ledger,omitempty"`
}

// Complete verifies token with the gateway and applies the purchase. Calling
// it again for an applied token is a no-op.
func (s *Service) Complete(ctx context.Context, userID uint, token string) (*Outcome, error) {
	if token == "" {
		return nil, apperror.New(apperror.KindValidation, "payment token is required")
	}
	rec, err := s.records.GetByToken(ctx, token)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.New(apperror.KindNotFound, "unknown payment")
	}
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	if rec.UserID != userID {
		return nil, apperror.New(apperror.KindNotFound, "unknown payment")
	}
	out := &Outcome{Token: token, Kind: rec.Kind, Reference: rec.Reference}
	if rec.Status == models.PaymentStatusCompleted {
		out.AlreadyApplied = true
		return out, nil
	}

	v, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (*Verification, error) {
		return s.gateway.Verify(ctx, token)
	})
	if err != nil {
		s.fail(ctx, rec, err)
		return nil, err
	}
	if v.UserRef != "" && v.UserRef != strconv.FormatUint(uint64(userID), 10) {
		return nil, apperror.New(apperror.KindValidation, "payment belongs to another account")
	}
	if v.Reference != "" && v.Reference != rec.Reference {
		return nil, apperror.New(apperror.KindValidation, "payment does not match the checkout")
	}

	claimed, err := s.records.MarkCompleted(ctx, rec.ID)
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	if !claimed {
		out.AlreadyApplied = true
		return out, nil
	}

	ledger, err := s.apply(ctx, rec)
	if err != nil {
		// Reopen the record so a later callback can apply it.
		if mErr := s.records.MarkFailed(ctx, rec.ID, err.Error()); mErr != nil {
			log.Errorf("[Billing] could not reopen payment %d: %v", rec.ID, mErr)
		}
		metrics.Error("billing", string(apperror.KindOf(err)))
		return nil, apperror.Categorize(err)
	}
	log.Infof("[Billing] applied %s %s for user %d", rec.Kind, rec.Reference, userID)
	out.Ledger = ledger
	return out, nil
}

func (s *Service) apply(ctx context.Context, rec *models.PaymentRecord) (*models.QuotaLedger, error) {
	purchase, ok := ResolvePurchase(rec.Reference)
	if !ok {
		return nil, apperror.Newf(apperror.KindValidation, "unknown plan or package %q", rec.Reference)
	}
	if purchase.IsSubscription() {
		end := s.now().Add(s.period)
		return s.ledger.ResetPlan(ctx, rec.UserID, purchase.Plan, &end)
	}
	return s.ledger.AddCredits(ctx, rec.UserID, purchase.Credits)
}

// fail records terminal outcomes. Retryable failures leave the record pending.
func (s *Service) fail(ctx context.Context, rec *models.PaymentRecord, cause error) {
	kind := apperror.KindOf(cause)
	metrics.Error("billing", string(kind))
	switch kind {
	case apperror.KindPaymentCancelled, apperror.KindInvalidCard, apperror.KindInsufficientFunds:
	default:
		log.Warnf("[Billing] verification of payment %d failed: %v", rec.ID, cause)
		return
	}
	if err := s.records.MarkFailed(ctx, rec.ID, string(kind)); err != nil {
		log.Errorf("[Billing] could not mark payment %d failed: %v", rec.ID, err)
	}
}
