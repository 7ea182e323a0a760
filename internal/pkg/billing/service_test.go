package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/entitlements"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/retry"
)

type fakeGateway struct {
	mu       sync.Mutex
	verifies int
	results  []error
	userRef  string
	ref      string
}

func (g *fakeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	return &Checkout{ID: "cs_test_1", URL: "https://pay.example/cs_test_1", Reference: req.Purchase.Reference}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, token string) (*Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifies++
	if len(g.results) > 0 {
		err := g.results[0]
		g.results = g.results[1:]
		if err != nil {
			return nil, err
		}
	}
	return &Verification{Token: token, Paid: true, UserRef: g.userRef, Reference: g.ref}, nil
}

type memRecords struct {
	mu   sync.Mutex
	rows map[string]*models.PaymentRecord
	next uint
}

func newMemRecords() *memRecords { return &memRecords{rows: map[string]*models.PaymentRecord{}} }

func (m *memRecords) CreateIfNotExists(ctx context.Context, rec *models.PaymentRecord) (bool, *models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[rec.Token]; ok {
		return false, existing, nil
	}
	m.next++
	rec.ID = m.next
	cp := *rec
	m.rows[rec.Token] = &cp
	return true, &cp, nil
}

func (m *memRecords) GetByToken(ctx context.Context, token string) (*models.PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[token]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRecords) byID(id uint) *models.PaymentRecord {
	for _, r := range m.rows {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (m *memRecords) MarkCompleted(ctx context.Context, id uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.byID(id)
	if r == nil || r.Status == models.PaymentStatusCompleted {
		return false, nil
	}
	r.Status = models.PaymentStatusCompleted
	return true, nil
}

func (m *memRecords) MarkFailed(ctx context.Context, id uint, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.byID(id); r != nil {
		r.Status = models.PaymentStatusFailed
		r.Error = reason
	}
	return nil
}

type fakeLedger struct {
	plans   []entitlements.Plan
	credits int
	fail    error
}

func (l *fakeLedger) ResetPlan(ctx context.Context, userID uint, plan entitlements.Plan, periodEnd *time.Time) (*models.QuotaLedger, error) {
	if l.fail != nil {
		return nil, l.fail
	}
	l.plans = append(l.plans, plan)
	return &models.QuotaLedger{UserID: userID, Plan: string(plan), PeriodEnd: periodEnd}, nil
}

func (l *fakeLedger) AddCredits(ctx context.Context, userID uint, credits int) (*models.QuotaLedger, error) {
	if l.fail != nil {
		return nil, l.fail
	}
	l.credits += credits
	return &models.QuotaLedger{UserID: userID, Credits: l.credits}, nil
}

func newTestService(g *fakeGateway, r *memRecords, l *fakeLedger) *Service {
	return NewService(g, r, l).WithRetryPolicy(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func TestCheckoutThenCompleteAppliesOnce(t *testing.T) {
	g := &fakeGateway{userRef: "9", ref: "credits_100"}
	r := newMemRecords()
	l := &fakeLedger{}
	s := newTestService(g, r, l)

	co, err := s.StartCheckout(context.Background(), 9, "credits_100", "https://app/ok", "https://app/cancel")
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", co.ID)
	assert.Equal(t, models.PaymentStatusPending, r.rows["cs_test_1"].Status)

	out, err := s.Complete(context.Background(), 9, co.ID)
	require.NoError(t, err)
	assert.False(t, out.AlreadyApplied)
	assert.Equal(t, 100, l.credits)

	out, err = s.Complete(context.Background(), 9, co.ID)
	require.NoError(t, err)
	assert.True(t, out.AlreadyApplied)
	assert.Equal(t, 100, l.credits)
	assert.Equal(t, 1, g.verifies)
}

func TestCompletePlanResetsPeriod(t *testing.T) {
	g := &fakeGateway{ref: "pro"}
	r := newMemRecords()
	l := &fakeLedger{}
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := newTestService(g, r, l).WithClock(func() time.Time { return now })

	_, err := s.StartCheckout(context.Background(), 9, "pro", "", "")
	require.NoError(t, err)
	out, err := s.Complete(context.Background(), 9, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, []entitlements.Plan{entitlements.PlanPro}, l.plans)
	require.NotNil(t, out.Ledger.PeriodEnd)
	assert.Equal(t, now.Add(DefaultPlanPeriod), *out.Ledger.PeriodEnd)
}

func TestCompleteRetriesTransientVerification(t *testing.T) {
	g := &fakeGateway{results: []error{apperror.New(apperror.KindNetwork, "")}}
	r := newMemRecords()
	l := &fakeLedger{}
	s := newTestService(g, r, l)

	_, err := s.StartCheckout(context.Background(), 9, "credits_20", "", "")
	require.NoError(t, err)
	_, err = s.Complete(context.Background(), 9, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, 2, g.verifies)
	assert.Equal(t, 20, l.credits)
}

func TestCompleteDeclinedIsTerminal(t *testing.T) {
	g := &fakeGateway{results: []error{apperror.New(apperror.KindInsufficientFunds, "")}}
	r := newMemRecords()
	l := &fakeLedger{}
	s := newTestService(g, r, l)

	_, err := s.StartCheckout(context.Background(), 9, "credits_20", "", "")
	require.NoError(t, err)
	_, err = s.Complete(context.Background(), 9, "cs_test_1")
	assert.Equal(t, apperror.KindInsufficientFunds, apperror.KindOf(err))
	assert.Equal(t, 1, g.verifies, "declines are not retried")
	assert.Equal(t, models.PaymentStatusFailed, r.rows["cs_test_1"].Status)
	assert.Zero(t, l.credits)
}

func TestCompleteLedgerFailureReopensRecord(t *testing.T) {
	g := &fakeGateway{}
	r := newMemRecords()
	l := &fakeLedger{fail: errors.New("deadlock")}
	s := newTestService(g, r, l)

	_, err := s.StartCheckout(context.Background(), 9, "credits_20", "", "")
	require.NoError(t, err)
	_, err = s.Complete(context.Background(), 9, "cs_test_1")
	require.Error(t, err)
	assert.Equal(t, models.PaymentStatusFailed, r.rows["cs_test_1"].Status)

	l.fail = nil
	out, err := s.Complete(context.Background(), 9, "cs_test_1")
	require.NoError(t, err)
	assert.False(t, out.AlreadyApplied)
	assert.Equal(t, 20, l.credits)
}

func TestCompleteRejectsForeignOrUnknownTokens(t *testing.T) {
	g := &fakeGateway{}
	r := newMemRecords()
	s := newTestService(g, r, &fakeLedger{})

	_, err := s.Complete(context.Background(), 9, "cs_missing")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	_, err = s.StartCheckout(context.Background(), 9, "credits_20", "", "")
	require.NoError(t, err)
	_, err = s.Complete(context.Background(), 10, "cs_test_1")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	g.userRef = "11"
	_, err = s.Complete(context.Background(), 9, "cs_test_1")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestStartCheckoutUnknownReference(t *testing.T) {
	s := newTestService(&fakeGateway{}, newMemRecords(), &fakeLedger{})
	_, err := s.StartCheckout(context.Background(), 9, "platinum", "", "")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}
