package models

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	IntegrationStatusActive     = "active"
	IntegrationStatusComingSoon = "coming_soon"
)

const (
	IntegrationShopify     = "shopify"
	IntegrationGoogleDrive = "google_drive"
	IntegrationDropbox     = "dropbox"
	IntegrationFigma       = "figma"
)

// Integration is seeded reference data describing a third-party platform.
type Integration struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Slug      string    `gorm:"type:varchar(50);uniqueIndex;not null" json:"slug"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Category  string    `gorm:"type:varchar(50);not null;default:'storage'" json:"category"`
	Status    string    `gorm:"type:varchar(20);not null;default:'active'" json:"status"`
	Scopes    string    `gorm:"type:text" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *Integration) IsActive() bool {
	return i != nil && i.Status == IntegrationStatusActive
}

// ScopeList splits the space separated scope column.
func (i *Integration) ScopeList() []string {
	return strings.Fields(i.Scopes)
}

// UserIntegrationConnection is the persisted, encrypted OAuth grant for one
// (user, integration) pair. Token columns only ever hold vault ciphertext.
type UserIntegrationConnection struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          uint       `gorm:"not null;index:ux_user_integration,unique,priority:1" json:"user_id"`
	IntegrationID   uint       `gorm:"not null;index:ux_user_integration,unique,priority:2" json:"integration_id"`
	AccessTokenEnc  string     `gorm:"type:text;not null" json:"-"`
	RefreshTokenEnc string     `gorm:"type:text" json:"-"`
	TokenExpiresAt  *time.Time `gorm:"type:timestamp;default:null" json:"token_expires_at,omitempty"`
	SettingsJSON    string     `gorm:"type:text" json:"-"`
	ConnectedAt     time.Time  `gorm:"not null" json:"connected_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TokenExpired reports whether the access token has a known expiry in the past.
func (c *UserIntegrationConnection) TokenExpired(now time.Time) bool {
	return c.TokenExpiresAt != nil && !now.Before(*c.TokenExpiresAt)
}

func (c *UserIntegrationConnection) Settings() map[string]string {
	return decodeSettings(c.SettingsJSON)
}

func (c *UserIntegrationConnection) SetSettings(settings map[string]string) {
	c.SettingsJSON = encodeSettings(settings)
}

// OAuthState is a short-lived single-use anti-CSRF token for one authorization attempt.
type OAuthState struct {
	State         string    `gorm:"type:varchar(64);primaryKey" json:"state"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	IntegrationID uint      `gorm:"not null" json:"integration_id"`
	SettingsJSON  string    `gorm:"type:text" json:"-"`
	ExpiresAt     time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (s *OAuthState) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s *OAuthState) Settings() map[string]string {
	return decodeSettings(s.SettingsJSON)
}

func (s *OAuthState) SetSettings(settings map[string]string) {
	s.SettingsJSON = encodeSettings(settings)
}

func decodeSettings(raw string) map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func encodeSettings(settings map[string]string) string {
	if len(settings) == 0 {
		return ""
	}
	b, err := json.Marshal(settings)
	if err != nil {
		return ""
	}
	return string(b)
}
