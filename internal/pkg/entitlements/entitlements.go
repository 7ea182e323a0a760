package entitlements

import (
	"strings"
)

type Plan string

const (
	PlanFree     Plan = "free"
	PlanPro      Plan = "pro"
	PlanBusiness Plan = "business"
)

// Kind is a billable AI operation.
type Kind string

const (
	KindImageGeneration   Kind = "image_generation"
	KindVideoGeneration   Kind = "video_generation"
	KindBackgroundRemoval Kind = "background_removal"
)

func (k Kind) Valid() bool {
	switch k {
	case KindImageGeneration, KindVideoGeneration, KindBackgroundRemoval:
		return true
	default:
		return false
	}
}

// NormalizePlan maps unknown or empty values to the free plan.
func NormalizePlan(plan string) Plan {
	switch Plan(strings.ToLower(strings.TrimSpace(plan))) {
	case PlanPro:
		return PlanPro
	case PlanBusiness:
		return PlanBusiness
	default:
		return PlanFree
	}
}

// IsPaidPlan reports whether plan is a purchasable subscription.
func IsPaidPlan(plan string) bool {
	p := Plan(strings.ToLower(strings.TrimSpace(plan)))
	return p == PlanPro || p == PlanBusiness
}

// MonthlyQuota is the allotment granted at the start of each period.
func MonthlyQuota(plan Plan, kind Kind) int {
	switch plan {
	case PlanBusiness:
		switch kind {
		case KindImageGeneration:
			return 1000
		case KindVideoGeneration:
			return 50
		case KindBackgroundRemoval:
			return 1000
		}
	case PlanPro:
		switch kind {
		case KindImageGeneration:
			return 200
		case KindVideoGeneration:
			return 10
		case KindBackgroundRemoval:
			return 200
		}
	default:
		switch kind {
		case KindImageGeneration:
			return 5
		case KindBackgroundRemoval:
			return 3
		}
	}
	return 0
}

// HasWatermark is true for plans whose output gets the resize + text watermark.
func HasWatermark(plan Plan) bool {
	return plan == PlanFree
}

// CreditPackages maps purchasable package ids to the credits they grant.
var CreditPackages = map[string]int{
	"credits_20":  20,
	"credits_100": 100,
	"credits_500": 500,
}

// CreditsForPackage returns the credits for a package id, 0 if unknown.
func CreditsForPackage(id string) int {
	return CreditPackages[strings.ToLower(strings.TrimSpace(id))]
}
