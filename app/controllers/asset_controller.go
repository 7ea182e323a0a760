package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/storage"
)

// HandleSignedURL returns a short-lived download URL for one of the
// caller's objects.
func HandleSignedURL(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return badRequest(c, "path is required")
	}
	if !storage.OwnedBy(path, currentUserID(c)) {
		return respondError(c, apperror.New(apperror.KindNotFound, "asset not found"))
	}
	url, err := deps.Storage.SignedURL(c.UserContext(), path, deps.SignedURLTTL)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"url":        url,
		"expires_at": deps.Now().Add(deps.SignedURLTTL).UTC(),
	})
}
