// Package quota is the gate in front of every billable AI operation: a
// read-only pre-flight check and a best-effort decrement after success.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/entitlements"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/metrics"
)

// Ledgers is the subset of the quota repository the gate needs.
type Ledgers interface {
	Get(ctx context.Context, userID uint) (*models.QuotaLedger, error)
	CreateIfNotExists(ctx context.Context, ledger *models.QuotaLedger) (*models.QuotaLedger, error)
	Adjust(ctx context.Context, userID uint, fn func(ledger *models.QuotaLedger) error) (*models.QuotaLedger, error)
}

type Service struct {
	repo Ledgers
	now  func() time.Time
}

func NewService(repo Ledgers) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithClock replaces the time source, used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// NewLedger returns the defaults for a user that never had a ledger row.
func NewLedger(userID uint, plan entitlements.Plan, now time.Time) *models.QuotaLedger {
	return &models.QuotaLedger{
		UserID:         userID,
		Plan:           string(plan),
		ImageQuota:     entitlements.MonthlyQuota(plan, entitlements.KindImageGeneration),
		VideoQuota:     entitlements.MonthlyQuota(plan, entitlements.KindVideoGeneration),
		BgRemovalQuota: entitlements.MonthlyQuota(plan, entitlements.KindBackgroundRemoval),
		PeriodStart:    now,
	}
}

func quotaField(l *models.QuotaLedger, kind entitlements.Kind) *int {
	switch kind {
	case entitlements.KindVideoGeneration:
		return &l.VideoQuota
	case entitlements.KindBackgroundRemoval:
		return &l.BgRemovalQuota
	default:
		return &l.ImageQuota
	}
}

// Remaining returns the usable quota for kind. Quota of an expired paid
// period does not count; credits always do.
func Remaining(l *models.QuotaLedger, kind entitlements.Kind, now time.Time) int {
	if l.PeriodExpired(now) {
		return 0
	}
	q := *quotaField(l, kind)
	if q < 0 {
		return 0
	}
	return q
}

// Ledger reads the user's ledger. Users without a row get the free defaults
// without anything being written.
func (s *Service) Ledger(ctx context.Context, userID uint) (*models.QuotaLedger, error) {
	l, err := s.repo.Get(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewLedger(userID, entitlements.PlanFree, s.now()), nil
	}
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	return l, nil
}

// CanPerform is true iff the remaining quota or the credit balance is positive.
func (s *Service) CanPerform(ctx context.Context, userID uint, kind entitlements.Kind) (bool, error) {
	if !kind.Valid() {
		return false, apperror.Newf(apperror.KindValidation, "unknown operation kind %q", kind)
	}
	l, err := s.Ledger(ctx, userID)
	if err != nil {
		return false, err
	}
	return Remaining(l, kind, s.now()) > 0 || l.Credits > 0, nil
}

// Check is CanPerform turned into the error the caller surfaces.
func (s *Service) Check(ctx context.Context, userID uint, kind entitlements.Kind) error {
	if !kind.Valid() {
		return apperror.Newf(apperror.KindValidation, "unknown operation kind %q", kind)
	}
	l, err := s.Ledger(ctx, userID)
	if err != nil {
		return err
	}
	now := s.now()
	if Remaining(l, kind, now) > 0 || l.Credits > 0 {
		return nil
	}

	var denial *apperror.Error
	plan := entitlements.NormalizePlan(l.Plan)
	switch {
	case entitlements.IsPaidPlan(l.Plan) && l.PeriodExpired(now):
		denial = apperror.New(apperror.KindSubscriptionExpired, "")
	case entitlements.MonthlyQuota(plan, kind) == 0:
		denial = apperror.Newf(apperror.KindNoCredits, "%s is not included in the %s plan, buy credits to continue", kind, plan)
	default:
		denial = apperror.New(apperror.KindQuotaExceeded, "")
	}
	metrics.QuotaDenied(string(kind), string(denial.Kind))
	return denial
}

// Decrement consumes n units, quota first, then credits. Neither counter
// goes below zero.
func (s *Service) Decrement(ctx context.Context, userID uint, kind entitlements.Kind, n int) (*models.QuotaLedger, error) {
	if n <= 0 {
		return nil, apperror.New(apperror.KindValidation, "amount must be positive")
	}
	if err := s.ensure(ctx, userID); err != nil {
		return nil, apperror.Categorize(err)
	}
	now := s.now()
	l, err := s.repo.Adjust(ctx, userID, func(l *models.QuotaLedger) error {
		field := quotaField(l, kind)
		fromQuota := min(n, Remaining(l, kind, now))
		*field = max(*field-fromQuota, 0)
		l.Credits = max(l.Credits-(n-fromQuota), 0)
		return nil
	})
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	return l, nil
}

// DecrementBestEffort runs after output was delivered. Failures are logged
// and never retried; delivered output is never clawed back.
func (s *Service) DecrementBestEffort(ctx context.Context, userID uint, kind entitlements.Kind, n int) {
	if _, err := s.Decrement(ctx, userID, kind, n); err != nil {
		log.Warnf("[Quota] decrement failed for user %d kind %s: %v", userID, kind, err)
		metrics.Error("quota", string(apperror.KindOf(err)))
	}
}

func (s *Service) ensure(ctx context.Context, userID uint) error {
	_, err := s.repo.CreateIfNotExists(ctx, NewLedger(userID, entitlements.PlanFree, s.now()))
	return err
}

// ResetPlan applies a plan change or renewal: quotas are set to the plan's
// monthly allotment and a new period begins. Credits are kept.
func (s *Service) ResetPlan(ctx context.Context, userID uint, plan entitlements.Plan, periodEnd *time.Time) (*models.QuotaLedger, error) {
	if err := s.ensure(ctx, userID); err != nil {
		return nil, apperror.Categorize(err)
	}
	now := s.now()
	l, err := s.repo.Adjust(ctx, userID, func(l *models.QuotaLedger) error {
		fresh := NewLedger(userID, plan, now)
		l.Plan = fresh.Plan
		l.ImageQuota = fresh.ImageQuota
		l.VideoQuota = fresh.VideoQuota
		l.BgRemovalQuota = fresh.BgRemovalQuota
		l.PeriodStart = now
		l.PeriodEnd = periodEnd
		return nil
	})
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	log.Infof("[Quota] user %d moved to plan %s", userID, plan)
	return l, nil
}

// AddCredits tops up the non-expiring credit balance.
func (s *Service) AddCredits(ctx context.Context, userID uint, credits int) (*models.QuotaLedger, error) {
	if credits <= 0 {
		return nil, apperror.New(apperror.KindValidation, "credits must be positive")
	}
	if err := s.ensure(ctx, userID); err != nil {
		return nil, apperror.Categorize(err)
	}
	l, err := s.repo.Adjust(ctx, userID, func(l *models.QuotaLedger) error {
		l.Credits += credits
		return nil
	})
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	log.Infof("[Quota] user %d received %d credits", userID, credits)
	return l, nil
}

// Summary is the ledger as shown to clients.
type Summary struct {
	Plan        string     `json:"plan"`
	Image       int        `json:"image_quota"`
	Video       int        `json:"video_quota"`
	BgRemoval   int        `json:"bg_removal_quota"`
	Credits     int        `json:"credits"`
	Watermark   bool       `json:"watermark"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
}

func (s *Service) Summary(ctx context.Context, userID uint) (*Summary, error) {
	l, err := s.Ledger(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	now := s.now()
	return &Summary{
		Plan:        string(entitlements.NormalizePlan(l.Plan)),
		Image:       Remaining(l, entitlements.KindImageGeneration, now),
		Video:       Remaining(l, entitlements.KindVideoGeneration, now),
		BgRemoval:   Remaining(l, entitlements.KindBackgroundRemoval, now),
		Credits:     l.Credits,
		Watermark:   entitlements.HasWatermark(entitlements.NormalizePlan(l.Plan)),
		PeriodStart: l.PeriodStart,
		PeriodEnd:   l.PeriodEnd,
	}, nil
}
