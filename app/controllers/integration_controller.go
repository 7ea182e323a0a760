package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/integrations"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/oauth"
)

type integrationView struct {
	Slug        string                   `json:"slug"`
	Name        string                   `json:"name"`
	Category    string                   `json:"category"`
	Status      string                   `json:"status"`
	Operations  []integrations.Operation `json:"operations"`
	Connected   bool                     `json:"connected"`
	ConnectedAt interface{}              `json:"connected_at"`
}

// HandleListIntegrations returns the catalog with the caller's connection state.
func HandleListIntegrations(c *fiber.Ctx) error {
	ctx := c.UserContext()
	list, err := deps.Repos.Integration.List(ctx)
	if err != nil {
		return respondError(c, err)
	}
	conns, err := deps.Repos.Connection.ListByUser(ctx, currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	byIntegration := make(map[uint]models.UserIntegrationConnection, len(conns))
	for _, conn := range conns {
		byIntegration[conn.IntegrationID] = conn
	}

	out := make([]integrationView, 0, len(list))
	for _, in := range list {
		v := integrationView{Slug: in.Slug, Name: in.Name, Category: in.Category, Status: in.Status, Operations: []integrations.Operation{}}
		if entry, ok := deps.Catalog.Entry(in.Slug); ok {
			v.Operations = entry.Operations
		}
		if conn, ok := byIntegration[in.ID]; ok {
			v.Connected = true
			at := conn.ConnectedAt
			v.ConnectedAt = formatTimePtr(&at)
		}
		out = append(out, v)
	}
	return c.JSON(fiber.Map{"integrations": out})
}

type connectRequest struct {
	Transport string            `json:"transport" validate:"omitempty,oneof=popup redirect"`
	Settings  map[string]string `json:"settings"`
}

// HandleConnect starts an authorization. The chosen transport travels with
// the state so the callback knows how to answer.
func HandleConnect(c *fiber.Ctx) error {
	var req connectRequest
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &req); err != nil {
			return respondError(c, err)
		}
	}
	transport := req.Transport
	if transport == "" {
		transport = oauth.TransportPopup
	}
	settings := make(map[string]string, len(req.Settings)+1)
	for k, v := range req.Settings {
		settings[k] = v
	}
	settings[oauth.SettingTransport] = transport

	auth, err := deps.OAuth.Initiate(c.UserContext(), currentUserID(c), c.Params("slug"), settings)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{
		"auth_url":   auth.URL,
		"state":      auth.State,
		"platform":   auth.Platform,
		"transport":  transport,
		"expires_at": auth.ExpiresAt.UTC(),
	})
}

// HandleIntegrationCallback is where the provider sends the browser back.
// Popups get a page that posts the outcome to the opener; redirects go
// back into the app with the outcome in the query.
func HandleIntegrationCallback(c *fiber.Ctx) error {
	slug := c.Params("slug")
	state := c.Query("state")
	providerErr := c.Query("error_description")
	if providerErr == "" {
		providerErr = c.Query("error")
	}

	res, err := deps.OAuth.Callback(c.UserContext(), oauth.CallbackInput{
		Code:          c.Query("code"),
		State:         state,
		Shop:          c.Query("shop"),
		ProviderError: providerErr,
	})

	platform := slug
	transport := oauth.TransportRedirect
	if res != nil {
		platform = res.Platform
		if res.Transport != "" {
			transport = res.Transport
		}
	}

	msg := oauth.MessageFor(platform, err, deps.AppOrigin)
	if state != "" {
		// the waiting client long-polls on the state, even for a rejected one
		if perr := deps.Handshakes.Publish(context.WithoutCancel(c.UserContext()), state, msg); perr != nil {
			log.Warnf("[OAuth] could not publish %s handshake result: %v", platform, perr)
		}
	}

	if transport == oauth.TransportPopup {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		c.Set("Cache-Control", "no-store")
		return c.SendString(oauth.CallbackPage(msg, deps.AppOrigin))
	}

	redirect := oauth.RedirectResult{Success: err == nil, Platform: platform}
	if err != nil {
		redirect.Error = string(apperror.Categorize(err).Kind)
	}
	return c.Redirect(oauth.RedirectURL(deps.BaseURL, redirect), fiber.StatusSeeOther)
}

// HandleAwaitHandshake long-polls for the popup outcome of one state. 202
// means nothing arrived yet and the client should ask again.
func HandleAwaitHandshake(c *fiber.Ctx) error {
	state := c.Params("state")
	platform := c.Query("platform")
	if state == "" || platform == "" {
		return badRequest(c, "state and platform are required")
	}

	msg, err := deps.Handshakes.Await(c.UserContext(), state, platform, deps.AwaitTimeout)
	if errors.Is(err, oauth.ErrAwaitTimeout) {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"phase": oauth.PhaseAwaitingProvider})
	}
	if err != nil {
		return respondError(c, apperror.Categorize(err))
	}

	body := fiber.Map{"platform": platform}
	switch msg.Type {
	case oauth.MessageSuccess:
		body["phase"] = oauth.PhaseConnected
	case oauth.MessageClosed:
		body["phase"] = oauth.PhaseCancelled
	default:
		body["phase"] = oauth.PhaseFailed
		body["error"] = msg.Error
	}
	if err := deps.Handshakes.Forget(c.UserContext(), state); err != nil {
		log.Warnf("[OAuth] could not clear handshake %s: %v", platform, err)
	}
	return c.JSON(body)
}

// HandleCloseHandshake records that the user closed the popup.
func HandleCloseHandshake(c *fiber.Ctx) error {
	state := c.Params("state")
	if state == "" {
		return badRequest(c, "state is required")
	}
	msg := oauth.Message{Type: oauth.MessageClosed, Platform: c.Query("platform"), Origin: deps.AppOrigin}
	if err := deps.Handshakes.Publish(c.UserContext(), state, msg); err != nil {
		return respondError(c, apperror.Wrap(apperror.KindNetwork, err, ""))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func HandleDisconnect(c *fiber.Ctx) error {
	if err := deps.OAuth.Disconnect(c.UserContext(), currentUserID(c), c.Params("slug")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type syncRequest struct {
	Operation   string   `json:"operation" validate:"required"`
	Parent      string   `json:"parent"`
	Target      string   `json:"target"`
	MockupPaths []string `json:"mockup_paths" validate:"max=50"`
	Limit       int      `json:"limit" validate:"gte=0,lte=250"`
}

// HandleSync runs one integration operation.
func HandleSync(c *fiber.Ctx) error {
	var req syncRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	op := integrations.Operation(strings.TrimSpace(req.Operation))
	if !op.Valid() {
		return badRequest(c, "unknown operation")
	}
	res, err := deps.Sync.Sync(c.UserContext(), currentUserID(c), c.Params("slug"), op, integrations.Params{
		Parent:      req.Parent,
		Target:      req.Target,
		MockupPaths: req.MockupPaths,
		Limit:       req.Limit,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}
