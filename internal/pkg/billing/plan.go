package billing

import (
	"strings"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/entitlements"
)

// Purchase describes what a checkout reference buys: a paid plan or a
// credit package.
type Purchase struct {
	Kind      string
	Reference string
	Plan      entitlements.Plan
	Credits   int
}

// ResolvePurchase maps a plan name or credit package id to a purchase.
func ResolvePurchase(reference string) (Purchase, bool) {
	ref := strings.ToLower(strings.TrimSpace(reference))
	if entitlements.IsPaidPlan(ref) {
		return Purchase{Kind: models.PaymentKindPlan, Reference: ref, Plan: entitlements.NormalizePlan(ref)}, true
	}
	if credits := entitlements.CreditsForPackage(ref); credits > 0 {
		return Purchase{Kind: models.PaymentKindCredits, Reference: ref, Credits: credits}, true
	}
	return Purchase{}, false
}

// IsSubscription reports whether the purchase renews monthly.
func (p Purchase) IsSubscription() bool {
	return p.Kind == models.PaymentKindPlan
}
