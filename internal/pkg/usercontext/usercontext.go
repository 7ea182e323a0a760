package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the complete user context for a request
type UserContext struct {
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	IsLoggedIn bool   `json:"is_logged_in"`
	IsAdmin    bool   `json:"is_admin"`
	Plan       string `json:"plan"`
	// SessionID namespaces handoff values; empty for token-authenticated requests.
	SessionID string `json:"-"`
}

// Set stores ctx for the rest of the request and mirrors the legacy locals.
func Set(c *fiber.Ctx, ctx UserContext) {
	c.Locals(localsKey, ctx)
	c.Locals(KeyFromProtected, ctx.IsLoggedIn)
	c.Locals(KeyIsAdmin, ctx.IsAdmin)
	if ctx.IsLoggedIn {
		c.Locals(KeyUserID, ctx.UserID)
		c.Locals(KeyUsername, ctx.Username)
	}
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(localsKey).(UserContext); ok {
		return ctx
	}
	return UserContext{IsLoggedIn: false, IsAdmin: false}
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsAdmin checks if the current user is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}

// GetUsername returns the current user's username, or empty string if not logged in
func GetUsername(c *fiber.Ctx) string {
	return GetUserContext(c).Username
}
