package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/app/repository"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/env"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/usercontext"
)

const (
	tokenIssuer     = "mockupsuite"
	DefaultTokenTTL = 30 * 24 * time.Hour
	apiKeyPrefix    = "msk_"
)

// Claims is the payload of a CLI bearer token.
type Claims struct {
	Name string `json:"name"`
	Plan string `json:"plan"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() uint {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

// TokenSecret reads JWT_SECRET. An empty secret disables bearer tokens.
func TokenSecret() []byte {
	return []byte(env.GetEnv("JWT_SECRET", ""))
}

// IssueToken signs an HS256 token for user valid for ttl.
func IssueToken(secret []byte, user *models.User, plan string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, errors.New("JWT_SECRET is not configured")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	expires := now.Add(ttl)
	claims := Claims{
		Name: user.Name,
		Plan: plan,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken validates signature, issuer and expiry.
func ParseToken(secret []byte, raw string, opts ...jwt.ParserOption) (*Claims, error) {
	if len(secret) == 0 {
		return nil, errors.New("JWT_SECRET is not configured")
	}
	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	}, opts...)
	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...); err != nil {
		return nil, err
	}
	if claims.UserID() == 0 {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// APIAuthConfig configures APIAuth.
type APIAuthConfig struct {
	Secret []byte
	Users  repository.UserRepository
}

// APIAuth accepts a logged-in session, a JWT bearer token or a user API key
// (X-API-Key or a bearer value starting with msk_). Anything else gets a 401.
func APIAuth(cfg APIAuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if usercontext.IsLoggedIn(c) {
			return c.Next()
		}

		apiKey, bearer := extractCredentials(c)
		switch {
		case apiKey != "":
			return authenticateAPIKey(c, cfg.Users, apiKey)
		case bearer != "":
			claims, err := ParseToken(cfg.Secret, bearer)
			if err != nil {
				return unauthorized(c, "Invalid or expired token")
			}
			usercontext.Set(c, usercontext.UserContext{
				UserID:     claims.UserID(),
				Username:   claims.Name,
				IsLoggedIn: true,
				Plan:       claims.Plan,
			})
			c.Locals(usercontext.KeyAuthMethod, "jwt")
			return c.Next()
		}
		return unauthorized(c, "Missing or invalid authentication")
	}
}

func authenticateAPIKey(c *fiber.Ctx, users repository.UserRepository, apiKey string) error {
	if users == nil {
		return unauthorized(c, "API keys are not accepted here")
	}
	user, settings, err := users.GetByAPIKeyHash(models.HashAPIKey(apiKey))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return unauthorized(c, "Invalid API key")
		}
		log.Errorf("[Auth] api key lookup failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
	}
	if !user.IsActive() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
	}

	settings.TouchAPIKeyUsage()
	if err := users.SaveSettings(settings); err != nil {
		log.Warnf("[Auth] failed to update api key usage for user %d: %v", user.ID, err)
	}

	plan := settings.Plan
	if plan == "" {
		plan = "free"
	}
	usercontext.Set(c, usercontext.UserContext{
		UserID:     user.ID,
		Username:   user.Name,
		IsLoggedIn: true,
		IsAdmin:    user.Role == models.ROLE_ADMIN,
		Plan:       plan,
	})
	c.Locals(usercontext.KeyAuthMethod, "api_key")
	return c.Next()
}

func extractCredentials(c *fiber.Ctx) (apiKey, bearer string) {
	if key := strings.TrimSpace(c.Get("X-API-Key")); key != "" {
		return key, ""
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		value := strings.TrimSpace(auth[7:])
		if strings.HasPrefix(value, apiKeyPrefix) {
			return value, ""
		}
		return "", value
	}
	return "", ""
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": message})
}
