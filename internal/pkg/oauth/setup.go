package oauth

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/middleware/session"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/markbates/goth"
	"github.com/markbates/goth/gothic"
	"github.com/markbates/goth/providers/google"
	"github.com/markbates/goth/providers/github"
	gothfiber "github.com/shareed2k/goth_fiber"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/cache"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/env"
)

// SetupLogin registers the social login providers (sign-in with Google or
// GitHub). Integration connections do not go through goth.
func SetupLogin() {
	base := env.AppURL()

	goth.UseProviders(
		google.New(
			env.GetEnv("GOOGLE_LOGIN_KEY", ""),
			env.GetEnv("GOOGLE_LOGIN_SECRET", ""),
			base+"/auth/google/callback",
			"email", "profile",
		),
		github.New(
			env.GetEnv("GITHUB_LOGIN_KEY", ""),
			env.GetEnv("GITHUB_LOGIN_SECRET", ""),
			base+"/auth/github/callback",
			"user:email",
		),
	)

	// goth keeps its own state in Redis DB 2, next to app sessions in DB 1
	cacheOpts := cache.GetClient().Options()
	host, port := "127.0.0.1", 6379
	if cacheOpts != nil && cacheOpts.Addr != "" {
		if h, p, err := net.SplitHostPort(cacheOpts.Addr); err == nil {
			host = h
			if parsed, e := strconv.Atoi(p); e == nil {
				port = parsed
			}
		} else {
			host = cacheOpts.Addr
		}
	}

	gothfiber.SessionStore = session.New(session.Config{
		Storage: redisstorage.New(redisstorage.Config{
			Host:     host,
			Port:     port,
			Username: cacheOpts.Username,
			Password: cacheOpts.Password,
			Database: 2,
		}),
		KeyLookup:      "cookie:" + gothic.SessionName,
		CookieHTTPOnly: true,
		CookieSameSite: "Lax",
		CookieSecure:   !env.IsDev(),
		Expiration:     15 * time.Minute,
	})
}
