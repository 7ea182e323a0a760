package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/entitlements"
)

func HandleQuotaSummary(c *fiber.Ctx) error {
	summary, err := deps.Quota.Summary(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summary)
}

type quotaCheckRequest struct {
	Kind string `json:"kind" validate:"required"`
}

// HandleQuotaCheck answers whether one more operation of kind is allowed.
// A denial is a normal answer, not an error response.
func HandleQuotaCheck(c *fiber.Ctx) error {
	var req quotaCheckRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	kind := entitlements.Kind(req.Kind)
	if !kind.Valid() {
		return badRequest(c, "unknown operation kind")
	}

	err := deps.Quota.Check(c.UserContext(), currentUserID(c), kind)
	if err == nil {
		return c.JSON(fiber.Map{"allowed": true})
	}
	e := apperror.Categorize(err)
	switch e.Kind {
	case apperror.KindQuotaExceeded, apperror.KindNoCredits, apperror.KindSubscriptionExpired:
		return c.JSON(fiber.Map{"allowed": false, "reason": e.Kind, "message": e.Message})
	}
	return respondError(c, err)
}
