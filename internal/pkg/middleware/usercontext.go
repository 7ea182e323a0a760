package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/session"

	"github.com/ManuelReschke/MockupSuite/app/repository"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/usercontext"
)

// UserContextMiddleware loads the session user for every request. Requests
// without a session stay anonymous; APIAuth may still authenticate them.
func UserContextMiddleware(store *session.Store, users repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// goth keeps its own session on /auth/*
		if strings.HasPrefix(c.Path(), "/auth/") || store == nil {
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}

		sess, err := store.Get(c)
		if err != nil {
			log.Warnf("[Session] load failed: %v", err)
			usercontext.Set(c, usercontext.UserContext{})
			return c.Next()
		}

		userID, ok := sess.Get(usercontext.KeyUserID).(uint)
		if !ok || userID == 0 {
			usercontext.Set(c, usercontext.UserContext{SessionID: sess.ID()})
			return c.Next()
		}

		username, _ := sess.Get(usercontext.KeyUsername).(string)
		isAdmin, _ := sess.Get(usercontext.KeyIsAdmin).(bool)

		// session-first, the settings row is only read once per session
		plan, _ := sess.Get(usercontext.KeyPlan).(string)
		if plan == "" {
			plan = "free"
			if users != nil {
				if us, err := users.GetOrCreateSettings(userID); err == nil && us.Plan != "" {
					plan = us.Plan
				}
			}
			sess.Set(usercontext.KeyPlan, plan)
			if err := sess.Save(); err != nil {
				log.Warnf("[Session] caching plan failed: %v", err)
			}
		}

		usercontext.Set(c, usercontext.UserContext{
			UserID:     userID,
			Username:   username,
			IsLoggedIn: true,
			IsAdmin:    isAdmin,
			Plan:       plan,
			SessionID:  sess.ID(),
		})
		c.Locals(usercontext.KeyAuthMethod, "session")
		return c.Next()
	}
}
