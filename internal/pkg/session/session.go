package session

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/cache"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/env"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/usercontext"
)

var sessionStore *session.Store

func NewSessionStore() *session.Store {
	// Get Redis client configuration from existing cache setup
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	// sessions use DB 1, the cache DB 0
	storage := redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})

	sessionStore = session.New(session.Config{
		Storage:        storage,
		CookieHTTPOnly: true,
		CookieSecure:   !env.IsDev(),
		CookieSameSite: "Lax",
		Expiration:     env.GetDuration("SESSION_TTL", 24*time.Hour),
		KeyLookup:      "cookie:session_id",
	})

	return sessionStore
}

// Login stores the authenticated user in a fresh session.
func Login(c *fiber.Ctx, userID uint, username string, isAdmin bool, plan string) error {
	if sessionStore == nil {
		return fmt.Errorf("session store not initialized")
	}
	sess, err := sessionStore.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %v", err)
	}
	// new id on login so a pre-auth cookie cannot be fixed
	if err := sess.Regenerate(); err != nil {
		return fmt.Errorf("failed to regenerate session: %v", err)
	}
	sess.Set(usercontext.AuthKey, true)
	sess.Set(usercontext.KeyUserID, userID)
	sess.Set(usercontext.KeyUsername, username)
	sess.Set(usercontext.KeyIsAdmin, isAdmin)
	if plan != "" {
		sess.Set(usercontext.KeyPlan, plan)
	}
	return sess.Save()
}

// Logout destroys the current session.
func Logout(c *fiber.Ctx) error {
	if sessionStore == nil {
		return nil
	}
	sess, err := sessionStore.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %v", err)
	}
	return sess.Destroy()
}

// SetSessionValue stores a key-value pair in the user's individual session
func SetSessionValue(c *fiber.Ctx, key string, value string) error {
	if sessionStore == nil {
		return fmt.Errorf("session store not initialized")
	}

	sess, err := sessionStore.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %v", err)
	}

	sess.Set(key, value)
	return sess.Save()
}
