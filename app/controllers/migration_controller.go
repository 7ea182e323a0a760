package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/migration"
)

// HandleMigration imports a legacy export. A failed run answers 422 with
// the full result so the client can show what happened.
func HandleMigration(c *fiber.Ctx) error {
	var legacy migration.LegacyExport
	if err := c.BodyParser(&legacy); err != nil {
		return respondError(c, apperror.Wrap(apperror.KindValidation, err, "malformed legacy export"))
	}
	if legacy.Empty() {
		return badRequest(c, "nothing to migrate")
	}
	res := deps.Migrator.Migrate(c.UserContext(), currentUserID(c), &legacy)
	if !res.Success {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(res)
	}
	return c.JSON(res)
}
