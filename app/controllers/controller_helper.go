package controllers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MockupSuite/app/repository"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/billing"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/generation"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/handoff"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/integrations"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/metrics"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/migration"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/oauth"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/quota"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/storage"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/usercontext"
)

// HandshakeBroker relays popup callback messages to the waiting client.
type HandshakeBroker interface {
	Publish(ctx context.Context, state string, msg oauth.Message) error
	Await(ctx context.Context, state, platform string, timeout time.Duration) (oauth.Message, error)
	Forget(ctx context.Context, state string) error
}

// Dependencies is everything the handlers need. The router builds it once
// at startup.
type Dependencies struct {
	Repos        *repository.Repositories
	Catalog      *integrations.Catalog
	OAuth        *oauth.Coordinator
	Handshakes   HandshakeBroker
	Sync         *integrations.Engine
	Quota        *quota.Service
	Generation   *generation.Service
	Billing      *billing.Service
	Handoff      *handoff.KV
	Migrator     *migration.Migrator
	Storage      storage.ObjectStorage
	TokenSecret  []byte
	TokenTTL     time.Duration
	WebhookKey   string
	BaseURL      string
	AppOrigin    string
	SignedURLTTL time.Duration
	AwaitTimeout time.Duration
	Now          func() time.Time
}

var (
	deps     *Dependencies
	validate = validator.New()
)

// Initialize installs the handler dependencies.
func Initialize(d *Dependencies) {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.SignedURLTTL <= 0 {
		d.SignedURLTTL = 15 * time.Minute
	}
	if d.AwaitTimeout <= 0 {
		d.AwaitTimeout = 25 * time.Second
	}
	deps = d
}

// respondError writes the categorized error as {"error": kind, "message": ...}.
func respondError(c *fiber.Ctx, err error) error {
	e := apperror.Categorize(err)
	status := apperror.HTTPStatus(e.Kind)
	if status >= fiber.StatusInternalServerError {
		log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
	}
	metrics.Error("api", string(e.Kind))
	return c.Status(status).JSON(fiber.Map{"error": e.Kind, "message": e.Message})
}

func badRequest(c *fiber.Ctx, message string) error {
	return respondError(c, apperror.New(apperror.KindValidation, message))
}

// bindJSON parses and validates the request body.
func bindJSON(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return apperror.Wrap(apperror.KindValidation, err, "malformed request body")
	}
	if err := validate.Struct(out); err != nil {
		return apperror.Wrap(apperror.KindValidation, err, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		f := verrs[0]
		return fmt.Sprintf("%s failed %s", f.Field(), f.Tag())
	}
	return "invalid request"
}

func currentUserID(c *fiber.Ctx) uint {
	return usercontext.GetUserID(c)
}

func paramID(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperror.Newf(apperror.KindValidation, "invalid %s", name)
	}
	return uint(id), nil
}

// handoffNamespace scopes handoff values to the browser session, falling
// back to the user for token-authenticated clients.
func handoffNamespace(c *fiber.Ctx) string {
	uc := usercontext.GetUserContext(c)
	if uc.SessionID != "" {
		return "s:" + uc.SessionID
	}
	return fmt.Sprintf("u:%d", uc.UserID)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
