package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/usercontext"
)

var testSecret = []byte("test-secret")

type keyUsers struct {
	hash     string
	user     *models.User
	settings *models.UserSettings
	saved    int
}

func (k *keyUsers) Create(*models.User) error { return nil }
func (k *keyUsers) GetByID(uint) (*models.User, error) { return k.user, nil }
func (k *keyUsers) GetByEmail(string) (*models.User, error) { return nil, gorm.ErrRecordNotFound }
func (k *keyUsers) Update(*models.User) error { return nil }
func (k *keyUsers) SaveSettings(*models.UserSettings) error {
	k.saved++
	return nil
}
func (k *keyUsers) GetOrCreateSettings(uint) (*models.UserSettings, error) {
	return k.settings, nil
}

func (k *keyUsers) GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error) {
	if hash != k.hash {
		return nil, nil, gorm.ErrRecordNotFound
	}
	return k.user, k.settings, nil
}

func newAuthApp(users *keyUsers) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		usercontext.Set(c, usercontext.UserContext{})
		return c.Next()
	})
	cfg := APIAuthConfig{Secret: testSecret}
	if users != nil {
		cfg.Users = users
	}
	app.Get("/me", APIAuth(cfg), func(c *fiber.Ctx) error {
		uc := usercontext.GetUserContext(c)
		return c.JSON(fiber.Map{
			"user_id": uc.UserID,
			"plan":    uc.Plan,
			"method":  c.Locals(usercontext.KeyAuthMethod),
		})
	})
	return app
}

func TestIssueAndParseToken(t *testing.T) {
	now := time.Now()
	user := &models.User{ID: 12, Name: "mia"}

	raw, expires, err := IssueToken(testSecret, user, "pro", time.Hour, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(time.Hour), expires, time.Second)

	claims, err := ParseToken(testSecret, raw)
	require.NoError(t, err)
	assert.Equal(t, uint(12), claims.UserID())
	assert.Equal(t, "pro", claims.Plan)
	assert.Equal(t, "mia", claims.Name)

	_, err = ParseToken([]byte("other"), raw)
	assert.Error(t, err)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	raw, _, err := IssueToken(testSecret, &models.User{ID: 1}, "free", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	_, err = ParseToken(testSecret, raw)
	assert.Error(t, err)
}

func TestIssueTokenNeedsSecret(t *testing.T) {
	_, _, err := IssueToken(nil, &models.User{ID: 1}, "free", time.Hour, time.Now())
	assert.Error(t, err)
}

func TestAPIAuthBearerToken(t *testing.T) {
	raw, _, err := IssueToken(testSecret, &models.User{ID: 5, Name: "ben"}, "business", time.Hour, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	resp, err := newAuthApp(nil).Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAPIAuthRejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"missing", "", ""},
		{"garbage bearer", "Authorization", "Bearer not-a-jwt"},
		{"basic auth", "Authorization", "Basic Zm9vOmJhcg=="},
		{"unknown api key", "X-API-Key", "msk_unknown"},
	}
	users := &keyUsers{hash: models.HashAPIKey("msk_known")}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := newAuthApp(users).Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestAPIAuthAPIKey(t *testing.T) {
	users := &keyUsers{
		hash:     models.HashAPIKey("msk_known"),
		user:     &models.User{ID: 3, Name: "ops", Status: models.STATUS_ACTIVE},
		settings: &models.UserSettings{UserID: 3, Plan: "pro"},
	}

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer msk_known")
	resp, err := newAuthApp(users).Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, users.saved)
	assert.NotNil(t, users.settings.APIKeyLastUsedAt)

	users.user.Status = models.STATUS_DISABLED
	req = httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("X-API-Key", "msk_known")
	resp, err = newAuthApp(users).Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
