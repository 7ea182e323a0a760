package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
)

type projectRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
}

func HandleListProjects(c *fiber.Ctx) error {
	projects, err := deps.Repos.Project.ListByUser(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	if projects == nil {
		projects = []models.Project{}
	}
	return c.JSON(fiber.Map{"projects": projects})
}

func HandleCreateProject(c *fiber.Ctx) error {
	var req projectRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	p := &models.Project{UserID: currentUserID(c), Name: req.Name, Description: req.Description}
	if err := deps.Repos.Project.Create(c.UserContext(), p); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func HandleGetProject(c *fiber.Ctx) error {
	p, err := loadProject(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

func HandleUpdateProject(c *fiber.Ctx) error {
	p, err := loadProject(c)
	if err != nil {
		return respondError(c, err)
	}
	var req projectRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	p.Name = req.Name
	p.Description = req.Description
	p.Mockups = nil
	if err := deps.Repos.Project.Update(c.UserContext(), p); err != nil {
		return respondError(c, err)
	}
	return c.JSON(p)
}

// HandleDeleteProject is idempotent so replayed deletes succeed.
func HandleDeleteProject(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := deps.Repos.Project.Delete(c.UserContext(), currentUserID(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func loadProject(c *fiber.Ctx) (*models.Project, error) {
	id, err := paramID(c, "id")
	if err != nil {
		return nil, err
	}
	p, err := deps.Repos.Project.GetByID(c.UserContext(), currentUserID(c), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.New(apperror.KindNotFound, "project not found")
	}
	return p, err
}
