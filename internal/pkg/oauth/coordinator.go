// Package oauth drives the connect and disconnect lifecycle of third-party
// integrations: single-use states, code exchange, encrypted connections and
// the popup or redirect handshake around them.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/oauth2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/metrics"
)

const DefaultStateTTL = 5 * time.Minute

const stateBytes = 32

type IntegrationReader interface {
	GetBySlug(ctx context.Context, slug string) (*models.Integration, error)
	GetByID(ctx context.Context, id uint) (*models.Integration, error)
}

type ConnectionStore interface {
	Get(ctx context.Context, userID, integrationID uint) (*models.UserIntegrationConnection, error)
	Upsert(ctx context.Context, conn *models.UserIntegrationConnection) error
	Delete(ctx context.Context, userID, integrationID uint) error
}

type StateStore interface {
	Create(ctx context.Context, state *models.OAuthState) error
	Get(ctx context.Context, state string) (*models.OAuthState, error)
	Delete(ctx context.Context, state string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenCipher is the token vault as seen by the coordinator.
type TokenCipher interface {
	Encrypt(plain string) (string, error)
	EncryptOptional(plain string) (string, error)
}

type Coordinator struct {
	integrations IntegrationReader
	connections  ConnectionStore
	states       StateStore
	vault        TokenCipher
	providers    map[string]Provider
	baseURL      string
	ttl          time.Duration
	now          func() time.Time
	httpClient   *http.Client
}

type Option func(*Coordinator)

func WithStateTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithHTTPClient sets the client used for token exchanges.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Coordinator) { c.httpClient = hc }
}

func NewCoordinator(integrations IntegrationReader, connections ConnectionStore, states StateStore, vault TokenCipher, providers map[string]Provider, baseURL string, opts ...Option) *Coordinator {
	c := &Coordinator{
		integrations: integrations,
		connections:  connections,
		states:       states,
		vault:        vault,
		providers:    providers,
		baseURL:      strings.TrimRight(baseURL, "/"),
		ttl:          DefaultStateTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorization is what Initiate hands to the caller.
type Authorization struct {
	URL       string    `json:"auth_url"`
	State     string    `json:"state"`
	Platform  string    `json:"platform"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CallbackInput carries the provider's callback query.
type CallbackInput struct {
	Code  string
	State string
	// Shop is the shop domain some providers echo back on the callback.
	Shop string
	// ProviderError is set when the provider reported a failure instead of a code.
	ProviderError string
}

type CallbackResult struct {
	UserID   uint
	Platform string
	// Transport is TransportPopup or TransportRedirect as requested at Initiate.
	Transport  string
	Connection *models.UserIntegrationConnection
}

// NewState returns an unguessable base64url state value.
func NewState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (c *Coordinator) provider(slug string) (Provider, error) {
	p, ok := c.providers[slug]
	if !ok || !p.Configured() {
		return Provider{}, apperror.Newf(apperror.KindValidation, "OAuth for %s is not configured", slug)
	}
	return p, nil
}

func (c *Coordinator) activeIntegration(ctx context.Context, slug string) (*models.Integration, error) {
	integration, err := c.integrations.GetBySlug(ctx, slug)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Newf(apperror.KindNotFound, "unknown integration %q", slug)
	}
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	if !integration.IsActive() {
		return nil, apperror.Newf(apperror.KindValidation, "%s is coming soon", integration.Name)
	}
	return integration, nil
}

// OAuth2Config resolves the oauth2 configuration for a platform, used for
// exchanges here and for refreshes by the sync engine.
func (c *Coordinator) OAuth2Config(integration *models.Integration, settings map[string]string) (*oauth2.Config, error) {
	p, err := c.provider(integration.Slug)
	if err != nil {
		return nil, err
	}
	if len(p.Scopes) == 0 {
		p.Scopes = integration.ScopeList()
	}
	return p.Config(CallbackURL(c.baseURL, integration.Slug), settings)
}

// Initiate persists a fresh single-use state and returns the provider
// authorization URL embedding it.
func (c *Coordinator) Initiate(ctx context.Context, userID uint, slug string, settings map[string]string) (*Authorization, error) {
	if userID == 0 {
		return nil, apperror.New(apperror.KindAuth, "")
	}
	integration, err := c.activeIntegration(ctx, slug)
	if err != nil {
		return nil, err
	}
	if shop, ok := settings[SettingShop]; ok {
		copied := make(map[string]string, len(settings))
		for k, v := range settings {
			copied[k] = v
		}
		copied[SettingShop] = strings.ToLower(strings.TrimSpace(shop))
		settings = copied
	}
	cfg, err := c.OAuth2Config(integration, settings)
	if err != nil {
		return nil, err
	}

	value, err := NewState()
	if err != nil {
		return nil, apperror.Wrap(apperror.KindUnknown, err, "could not create authorization state")
	}
	state := &models.OAuthState{
		State:         value,
		UserID:        userID,
		IntegrationID: integration.ID,
		ExpiresAt:     c.now().Add(c.ttl),
	}
	state.SetSettings(settings)
	if err := c.states.Create(ctx, state); err != nil {
		return nil, apperror.Categorize(err)
	}

	p, _ := c.provider(slug)
	log.Infof("[OAuth] user %d initiated %s connection", userID, slug)
	return &Authorization{
		URL:       cfg.AuthCodeURL(value, p.authOptions()...),
		State:     value,
		Platform:  slug,
		ExpiresAt: state.ExpiresAt,
	}, nil
}

// consume loads and deletes the state. Missing, expired or concurrently
// consumed states are all InvalidOAuthState.
func (c *Coordinator) consume(ctx context.Context, value string) (*models.OAuthState, error) {
	if strings.TrimSpace(value) == "" {
		return nil, apperror.New(apperror.KindInvalidOAuthState, "")
	}
	st, err := c.states.Get(ctx, value)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.New(apperror.KindInvalidOAuthState, "")
	}
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	deleted, err := c.states.Delete(ctx, value)
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	if !deleted || st.Expired(c.now()) {
		return nil, apperror.New(apperror.KindInvalidOAuthState, "")
	}
	return st, nil
}

// Callback consumes the state before anything else, exchanges the code and
// upserts the encrypted connection. Nothing is written when the exchange fails.
func (c *Coordinator) Callback(ctx context.Context, in CallbackInput) (*CallbackResult, error) {
	st, err := c.consume(ctx, in.State)
	if err != nil {
		return nil, err
	}
	integration, err := c.integrations.GetByID(ctx, st.IntegrationID)
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	result := &CallbackResult{UserID: st.UserID, Platform: integration.Slug}
	settings := st.Settings()
	result.Transport = settings[SettingTransport]
	delete(settings, SettingTransport)

	fail := func(err error) (*CallbackResult, error) {
		metrics.OAuthFinished(integration.Slug, string(PhaseFailed))
		log.Warnf("[OAuth] %s connection for user %d failed: %v", integration.Slug, st.UserID, err)
		return result, err
	}

	if msg := strings.TrimSpace(in.ProviderError); msg != "" {
		return fail(apperror.Newf(apperror.KindAuth, "provider denied authorization: %s", msg))
	}
	code := strings.TrimSpace(in.Code)
	if code == "" {
		return fail(apperror.New(apperror.KindValidation, "authorization code is missing"))
	}

	if shop := strings.ToLower(strings.TrimSpace(in.Shop)); shop != "" && shop != settings[SettingShop] {
		return fail(apperror.New(apperror.KindInvalidOAuthState, "shop does not match the authorization request"))
	}

	cfg, err := c.OAuth2Config(integration, settings)
	if err != nil {
		return fail(err)
	}
	exchangeCtx := ctx
	if c.httpClient != nil {
		exchangeCtx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	token, err := cfg.Exchange(exchangeCtx, code)
	if err != nil {
		return fail(CategorizeTokenError(err))
	}

	conn, err := c.sealConnection(st.UserID, integration.ID, token, settings)
	if err != nil {
		return fail(err)
	}
	if err := c.connections.Upsert(ctx, conn); err != nil {
		return fail(apperror.Categorize(err))
	}

	metrics.OAuthFinished(integration.Slug, string(PhaseConnected))
	log.Infof("[OAuth] user %d connected %s", st.UserID, integration.Slug)
	result.Connection = conn
	return result, nil
}

func (c *Coordinator) sealConnection(userID, integrationID uint, token *oauth2.Token, settings map[string]string) (*models.UserIntegrationConnection, error) {
	if token.AccessToken == "" {
		return nil, apperror.New(apperror.KindAuth, "provider returned no access token")
	}
	access, err := c.vault.Encrypt(token.AccessToken)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindUnknown, err, "token encryption failed")
	}
	refresh, err := c.vault.EncryptOptional(token.RefreshToken)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindUnknown, err, "token encryption failed")
	}
	now := c.now()
	conn := &models.UserIntegrationConnection{
		UserID:          userID,
		IntegrationID:   integrationID,
		AccessTokenEnc:  access,
		RefreshTokenEnc: refresh,
		ConnectedAt:     now,
		UpdatedAt:       now,
	}
	if !token.Expiry.IsZero() {
		exp := token.Expiry
		conn.TokenExpiresAt = &exp
	}
	conn.SetSettings(settings)
	return conn, nil
}

// Disconnect removes the connection. Disconnecting twice is not an error.
func (c *Coordinator) Disconnect(ctx context.Context, userID uint, slug string) error {
	integration, err := c.integrations.GetBySlug(ctx, slug)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.Newf(apperror.KindNotFound, "unknown integration %q", slug)
	}
	if err != nil {
		return apperror.Categorize(err)
	}
	if err := c.connections.Delete(ctx, userID, integration.ID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.Categorize(err)
	}
	log.Infof("[OAuth] user %d disconnected %s", userID, slug)
	return nil
}

// PurgeExpiredStates removes orphaned states. Correctness never depends on it.
func (c *Coordinator) PurgeExpiredStates(ctx context.Context) (int64, error) {
	n, err := c.states.DeleteExpired(ctx, c.now())
	if err != nil {
		return 0, apperror.Categorize(err)
	}
	if n > 0 {
		log.Infof("[OAuth] purged %d expired states", n)
	}
	return n, nil
}

// StartSweeper runs PurgeExpiredStates every interval until ctx ends.
func (c *Coordinator) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.PurgeExpiredStates(ctx); err != nil {
					log.Warnf("[OAuth] state sweep failed: %v", err)
				}
			}
		}
	}()
}

// CategorizeTokenError maps oauth2 exchange and refresh failures. A 4xx from
// the token endpoint means the grant is unusable.
func CategorizeTokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status := re.Response.StatusCode
		if status >= 400 && status < 500 {
			msg := re.ErrorDescription
			if msg == "" {
				msg = re.ErrorCode
			}
			if msg == "" {
				msg = "token request rejected"
			}
			return apperror.Wrap(apperror.KindAuth, err, msg)
		}
		return apperror.FromHTTPStatus(status, "token endpoint unavailable")
	}
	return apperror.Categorize(err)
}
