package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/MockupSuite/app/models"
)

type templateRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Prompt   string `json:"prompt" validate:"required"`
	Category string `json:"category" validate:"max=50"`
}

func HandleListTemplates(c *fiber.Ctx) error {
	templates, err := deps.Repos.PromptTemplate.ListByUser(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	if templates == nil {
		templates = []models.PromptTemplate{}
	}
	return c.JSON(fiber.Map{"templates": templates})
}

func HandleCreateTemplate(c *fiber.Ctx) error {
	var req templateRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	tpl := &models.PromptTemplate{UserID: currentUserID(c), Name: req.Name, Prompt: req.Prompt, Category: req.Category}
	if err := deps.Repos.PromptTemplate.Create(c.UserContext(), tpl); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(tpl)
}

func HandleUpdateTemplate(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	var req templateRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	tpl := &models.PromptTemplate{ID: id, UserID: currentUserID(c), Name: req.Name, Prompt: req.Prompt, Category: req.Category}
	if err := deps.Repos.PromptTemplate.Update(c.UserContext(), tpl); err != nil {
		return respondError(c, err)
	}
	return c.JSON(tpl)
}

func HandleDeleteTemplate(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, err)
	}
	if err := deps.Repos.PromptTemplate.Delete(c.UserContext(), currentUserID(c), id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
