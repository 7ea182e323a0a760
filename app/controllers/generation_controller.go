package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/generation"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/imageprocessor"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/upload"
)

type imageRequest struct {
	ProjectID   *uint  `json:"project_id"`
	Prompt      string `json:"prompt" validate:"required,max=4000"`
	SourceImage string `json:"source_image"`
	Count       int    `json:"count" validate:"gte=0,lte=4"`
	AspectRatio string `json:"aspect_ratio" validate:"omitempty,oneof=1:1 3:4 4:3 9:16 16:9"`
}

type videoRequest struct {
	ProjectID   *uint  `json:"project_id"`
	Prompt      string `json:"prompt" validate:"required,max=4000"`
	SourceImage string `json:"source_image"`
	AspectRatio string `json:"aspect_ratio" validate:"omitempty,oneof=16:9 9:16"`
}

type backgroundRequest struct {
	ProjectID   *uint  `json:"project_id"`
	SourceImage string `json:"source_image" validate:"required"`
}

func HandleGenerateImages(c *fiber.Ctx) error {
	var req imageRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	uid := currentUserID(c)
	if err := checkProject(c, uid, req.ProjectID); err != nil {
		return respondError(c, err)
	}
	src, mime, err := sourceImage(req.SourceImage)
	if err != nil {
		return respondError(c, err)
	}
	res, err := deps.Generation.GenerateImages(c.UserContext(), uid, generation.ImageInput{
		ProjectID:   req.ProjectID,
		Prompt:      strings.TrimSpace(req.Prompt),
		Source:      src,
		SourceMime:  mime,
		Count:       req.Count,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func HandleGenerateVideo(c *fiber.Ctx) error {
	var req videoRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	uid := currentUserID(c)
	if err := checkProject(c, uid, req.ProjectID); err != nil {
		return respondError(c, err)
	}
	src, mime, err := sourceImage(req.SourceImage)
	if err != nil {
		return respondError(c, err)
	}
	res, err := deps.Generation.GenerateVideo(c.UserContext(), uid, generation.VideoInput{
		ProjectID:   req.ProjectID,
		Prompt:      strings.TrimSpace(req.Prompt),
		Source:      src,
		SourceMime:  mime,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func HandleRemoveBackground(c *fiber.Ctx) error {
	var req backgroundRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	uid := currentUserID(c)
	if err := checkProject(c, uid, req.ProjectID); err != nil {
		return respondError(c, err)
	}
	src, mime, err := sourceImage(req.SourceImage)
	if err != nil {
		return respondError(c, err)
	}
	res, err := deps.Generation.RemoveBackground(c.UserContext(), uid, generation.BackgroundInput{
		ProjectID:  req.ProjectID,
		Source:     src,
		SourceMime: mime,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// sourceImage decodes an optional data URL and checks it is a supported image.
func sourceImage(dataURL string) ([]byte, string, error) {
	if dataURL == "" {
		return nil, "", nil
	}
	data, err := imageprocessor.DecodeDataURL(dataURL)
	if err != nil {
		return nil, "", apperror.Wrap(apperror.KindValidation, err, "source_image must be a base64 data URL")
	}
	mime, err := upload.SniffImage(data)
	if err != nil {
		return nil, "", apperror.Wrap(apperror.KindValidation, err, err.Error())
	}
	return data, mime, nil
}

func checkProject(c *fiber.Ctx, userID uint, projectID *uint) error {
	if projectID == nil {
		return nil
	}
	_, err := deps.Repos.Project.GetByID(c.UserContext(), userID, *projectID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.New(apperror.KindNotFound, "project not found")
	}
	return err
}
