package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/handoff"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/imageprocessor"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/storage"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/upload"
)

type viewRequest struct {
	View string `json:"view" validate:"required,max=2000"`
}

// HandleSaveView remembers where the app was before a full-page redirect.
func HandleSaveView(c *fiber.Ctx) error {
	var req viewRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := deps.Handoff.Put(c.UserContext(), handoff.SaveView, handoffNamespace(c), handoff.CurrentView, req.View); err != nil {
		return respondError(c, handoffError(err))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func HandleRestoreView(c *fiber.Ctx) error {
	view, ok, err := deps.Handoff.Take(c.UserContext(), handoff.RestoreView, handoffNamespace(c), handoff.CurrentView)
	if err != nil {
		return respondError(c, handoffError(err))
	}
	if !ok {
		return c.JSON(fiber.Map{"view": nil})
	}
	return c.JSON(fiber.Map{"view": view})
}

type stashRequest struct {
	Image string `json:"image" validate:"required"`
}

// HandleStashUpload stores an uploaded source image so it survives the
// sign-in redirect. Only the object key goes into the handoff store.
func HandleStashUpload(c *fiber.Ctx) error {
	var req stashRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	data, err := imageprocessor.DecodeDataURL(req.Image)
	if err != nil {
		return respondError(c, apperror.Wrap(apperror.KindValidation, err, "image must be a base64 data URL"))
	}
	if _, err := upload.SniffImage(data); err != nil {
		return respondError(c, apperror.Wrap(apperror.KindValidation, err, err.Error()))
	}
	_, format, err := imageprocessor.Decode(data)
	if err != nil {
		return respondError(c, apperror.Wrap(apperror.KindValidation, err, "unsupported image format"))
	}

	ctx := c.UserContext()
	key := storage.UploadKey(currentUserID(c), imageprocessor.Extension(format))
	if err := deps.Storage.Upload(ctx, key, data, storage.ContentType(key)); err != nil {
		return respondError(c, err)
	}
	if err := deps.Handoff.Put(ctx, handoff.StashUpload, handoffNamespace(c), handoff.PendingUploadedImage, key); err != nil {
		return respondError(c, handoffError(err))
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"path": key})
}

func HandleClaimUpload(c *fiber.Ctx) error {
	ctx := c.UserContext()
	key, ok, err := deps.Handoff.Take(ctx, handoff.ClaimUpload, handoffNamespace(c), handoff.PendingUploadedImage)
	if err != nil {
		return respondError(c, handoffError(err))
	}
	if !ok || !storage.OwnedBy(key, currentUserID(c)) {
		return c.JSON(fiber.Map{"path": nil})
	}
	url, err := deps.Storage.SignedURL(ctx, key, deps.SignedURLTTL)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"path": key, "url": url})
}

func handoffError(err error) error {
	switch err {
	case handoff.ErrTooLarge:
		return apperror.Wrap(apperror.KindValidation, err, "value too large")
	case handoff.ErrUnknownKey, handoff.ErrNotOwner:
		return apperror.Wrap(apperror.KindUnknown, err, "")
	}
	return apperror.Wrap(apperror.KindStorage, err, "")
}
