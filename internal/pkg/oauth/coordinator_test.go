package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/tokenvault"
)

type memIntegrations struct{ rows []models.Integration }

func (m *memIntegrations) GetBySlug(ctx context.Context, slug string) (*models.Integration, error) {
	for i := range m.rows {
		if m.rows[i].Slug == slug {
			return &m.rows[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memIntegrations) GetByID(ctx context.Context, id uint) (*models.Integration, error) {
	for i := range m.rows {
		if m.rows[i].ID == id {
			return &m.rows[i], nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type connKey struct{ user, integration uint }

type memConnections struct {
	mu   sync.Mutex
	rows map[connKey]models.UserIntegrationConnection
}

func (m *memConnections) Get(ctx context.Context, userID, integrationID uint) (*models.UserIntegrationConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[connKey{userID, integrationID}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &c, nil
}

func (m *memConnections) Upsert(ctx context.Context, conn *models.UserIntegrationConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[connKey{conn.UserID, conn.IntegrationID}] = *conn
	return nil
}

func (m *memConnections) Delete(ctx context.Context, userID, integrationID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, connKey{userID, integrationID})
	return nil
}

type memStates struct {
	mu   sync.Mutex
	rows map[string]models.OAuthState
}

func (m *memStates) Create(ctx context.Context, s *models.OAuthState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[s.State] = *s
	return nil
}

func (m *memStates) Get(ctx context.Context, state string) (*models.OAuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[state]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &s, nil
}

func (m *memStates) Delete(ctx context.Context, state string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[state]
	delete(m.rows, state)
	return ok, nil
}

func (m *memStates) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, s := range m.rows {
		if s.Expired(now) {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

const appOrigin = "http://localhost:4000"

type fixture struct {
	coord       *Coordinator
	connections *memConnections
	states      *memStates
	vault       *tokenvault.Vault
	now         time.Time
	tokenServer *httptest.Server
	exchanges   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		connections: &memConnections{rows: map[connKey]models.UserIntegrationConnection{}},
		states:      &memStates{rows: map[string]models.OAuthState{}},
		now:         time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	vault, err := tokenvault.New("test-secret")
	require.NoError(t, err)
	f.vault = vault

	f.tokenServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.exchanges++
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "plain-access-token",
			"refresh_token": "plain-refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(f.tokenServer.Close)

	integrations := &memIntegrations{rows: []models.Integration{
		{ID: 1, Slug: models.IntegrationGoogleDrive, Name: "Google Drive", Status: models.IntegrationStatusActive, Scopes: "drive.file"},
		{ID: 2, Slug: models.IntegrationFigma, Name: "Figma", Status: models.IntegrationStatusComingSoon},
		{ID: 3, Slug: models.IntegrationShopify, Name: "Shopify", Status: models.IntegrationStatusActive},
		{ID: 4, Slug: models.IntegrationDropbox, Name: "Dropbox", Status: models.IntegrationStatusActive},
	}}
	providers := map[string]Provider{
		models.IntegrationGoogleDrive: {Slug: models.IntegrationGoogleDrive, ClientID: "id", ClientSecret: "secret", AuthURL: "https://accounts.example.com/auth", TokenURL: f.tokenServer.URL, AuthParams: map[string]string{"access_type": "offline"}},
		models.IntegrationFigma:       {Slug: models.IntegrationFigma, ClientID: "id", ClientSecret: "secret", AuthURL: "https://figma.example.com/oauth", TokenURL: f.tokenServer.URL},
		models.IntegrationShopify:     {Slug: models.IntegrationShopify, ClientID: "id", ClientSecret: "secret", AuthURL: "https://{shop}/admin/oauth/authorize", TokenURL: "https://{shop}/admin/oauth/access_token", PerShop: true},
		models.IntegrationDropbox:     {Slug: models.IntegrationDropbox},
	}
	f.coord = NewCoordinator(integrations, f.connections, f.states, vault, providers, appOrigin,
		WithClock(func() time.Time { return f.now }),
		WithHTTPClient(f.tokenServer.Client()),
	)
	return f
}

func stateFrom(t *testing.T, authURL string) string {
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestInitiateBuildsAuthorizationURL(t *testing.T) {
	f := newFixture(t)

	auth, err := f.coord.Initiate(context.Background(), 7, models.IntegrationGoogleDrive, nil)
	require.NoError(t, err)

	u, err := url.Parse(auth.URL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, auth.State, q.Get("state"))
	assert.Equal(t, "drive.file", q.Get("scope"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, appOrigin+"/integrations/google_drive/callback", q.Get("redirect_uri"))

	st, ok := f.states.rows[auth.State]
	require.True(t, ok)
	assert.Equal(t, uint(7), st.UserID)
	assert.Equal(t, f.now.Add(DefaultStateTTL), st.ExpiresAt)
}

func TestInitiateRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Initiate(ctx, 7, models.IntegrationFigma, nil)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err), "coming soon")

	_, err = f.coord.Initiate(ctx, 7, models.IntegrationDropbox, nil)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err), "not configured")

	_, err = f.coord.Initiate(ctx, 7, "myspace", nil)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	_, err = f.coord.Initiate(ctx, 7, models.IntegrationShopify, map[string]string{SettingShop: "evil.example.com"})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
	assert.Empty(t, f.states.rows)
}

func TestInitiateShopifyUsesShopDomain(t *testing.T) {
	f := newFixture(t)

	settings := map[string]string{SettingShop: " Acme.myshopify.com"}
	auth, err := f.coord.Initiate(context.Background(), 7, models.IntegrationShopify, settings)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(auth.URL, "https://acme.myshopify.com/admin/oauth/authorize?"))
	st := f.states.rows[auth.State]
	assert.Equal(t, "acme.myshopify.com", st.Settings()[SettingShop])
	assert.Equal(t, " Acme.myshopify.com", settings[SettingShop], "caller's settings are left alone")
}

func TestCallbackConnectsWithEncryptedTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	auth, err := f.coord.Initiate(ctx, 7, models.IntegrationGoogleDrive, nil)
	require.NoError(t, err)

	res, err := f.coord.Callback(ctx, CallbackInput{Code: "good-code", State: auth.State})
	require.NoError(t, err)
	assert.Equal(t, uint(7), res.UserID)

	conn, ok := f.connections.rows[connKey{7, 1}]
	require.True(t, ok)
	assert.NotContains(t, conn.AccessTokenEnc, "plain-access-token")
	plain, err := f.vault.Decrypt(conn.AccessTokenEnc)
	require.NoError(t, err)
	assert.Equal(t, "plain-access-token", plain)
	require.NotNil(t, conn.TokenExpiresAt)
}

func TestStateIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	auth, err := f.coord.Initiate(ctx, 7, models.IntegrationGoogleDrive, nil)
	require.NoError(t, err)

	_, err = f.coord.Callback(ctx, CallbackInput{Code: "good-code", State: auth.State})
	require.NoError(t, err)

	_, err = f.coord.Callback(ctx, CallbackInput{Code: "good-code", State: auth.State})
	assert.Equal(t, apperror.KindInvalidOAuthState, apperror.KindOf(err))
	assert.Equal(t, 1, f.exchanges)
}

func TestExpiredStateIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	auth, err := f.coord.Initiate(ctx, 7, models.IntegrationGoogleDrive, nil)
	require.NoError(t, err)

	f.now = f.now.Add(DefaultStateTTL + time.Second)
	_, err = f.coord.Callback(ctx, CallbackInput{Code: "good-code", State: auth.State})
	assert.Equal(t, apperror.KindInvalidOAuthState, apperror.KindOf(err))
	assert.Empty(t, f.connections.rows)
	assert.Zero(t, f.exchanges)
}

func TestFailedExchangeConsumesStateAndWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	auth, err := f.coord.Initiate(ctx, 7, models.IntegrationGoogleDrive, nil)
	require.NoError(t, err)

	_, err = f.coord.Callback(ctx, CallbackInput{Code: "bad-code", State: auth.State})
	assert.Equal(t, apperror.KindAuth, apperror.KindOf(err))
	assert.Empty(t, f.connections.rows)

	_, err = f.coord.Callback(ctx, CallbackInput{Code: "good-code", State: auth.State})
	assert.Equal(t, apperror.KindInvalidOAuthState, apperror.KindOf(err))
}

func TestRacingInitiatesAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.coord.Initiate(ctx, 7, models.IntegrationGoogleDrive, nil)
	require.NoError(t, err)
	b, err := f.coord.Initiate(ctx, 7, models.IntegrationGoogleDrive, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.State, b.State)

	_, err = f.coord.Callback(ctx, CallbackInput{Code: "good-code", State: b.State})
	require.NoError(t, err)
	assert.Contains(t, f.states.rows, a.State)

	f.now = f.now.Add(time.Hour)
	n, err := f.coord.PurgeExpiredStates(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connections.rows[connKey{7, 1}] = models.UserIntegrationConnection{UserID: 7, IntegrationID: 1}

	require.NoError(t, f.coord.Disconnect(ctx, 7, models.IntegrationGoogleDrive))
	require.NoError(t, f.coord.Disconnect(ctx, 7, models.IntegrationGoogleDrive))
	assert.Empty(t, f.connections.rows)
}

type simulatedPopup struct {
	closed chan struct{}
	once   sync.Once
	onOpen func(authURL string)
}

func (p *simulatedPopup) Open(ctx context.Context, authURL string) (Window, error) {
	go p.onOpen(authURL)
	return p, nil
}

func (p *simulatedPopup) Closed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *simulatedPopup) Close() { p.once.Do(func() { close(p.closed) }) }

func TestPopupSuccessScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	messages := NewMessageChannel(appOrigin)

	popup := &simulatedPopup{closed: make(chan struct{})}
	popup.onOpen = func(authURL string) {
		// the provider redirects to our callback, which posts to the opener
		res, err := f.coord.Callback(ctx, CallbackInput{Code: "good-code", State: stateFrom(t, authURL)})
		platform := ""
		if res != nil {
			platform = res.Platform
		}
		messages.Post(MessageFor(platform, err, appOrigin))
	}

	h := NewHandshake(models.IntegrationGoogleDrive)
	flow := &PopupFlow{
		Initiate: func(ctx context.Context) (*Authorization, error) {
			return f.coord.Initiate(ctx, 1, models.IntegrationGoogleDrive, nil)
		},
		Opener:   popup,
		Messages: messages,
		Verify: func(ctx context.Context) error {
			_, err := f.connections.Get(ctx, 1, 1)
			return err
		},
		Timeout:      2 * time.Second,
		PollInterval: 5 * time.Millisecond,
	}

	require.NoError(t, flow.Run(ctx, h))
	assert.Equal(t, PhaseConnected, h.Phase())
	assert.NotEmpty(t, h.State())

	conn, ok := f.connections.rows[connKey{1, 1}]
	require.True(t, ok)
	assert.NotEqual(t, "plain-access-token", conn.AccessTokenEnc)
}

func TestPopupClosedIsCancelled(t *testing.T) {
	messages := NewMessageChannel(appOrigin)
	popup := &simulatedPopup{closed: make(chan struct{})}
	popup.onOpen = func(string) { popup.Close() }

	h := NewHandshake(models.IntegrationGoogleDrive)
	flow := &PopupFlow{
		Initiate: func(ctx context.Context) (*Authorization, error) {
			return &Authorization{URL: "https://example.com", State: "s"}, nil
		},
		Opener:       popup,
		Messages:     messages,
		Timeout:      2 * time.Second,
		PollInterval: 5 * time.Millisecond,
	}

	err := flow.Run(context.Background(), h)
	assert.Equal(t, apperror.KindOAuthCancelled, apperror.KindOf(err))
	assert.Equal(t, PhaseCancelled, h.Phase())
}

func TestPopupErrorMessageFails(t *testing.T) {
	messages := NewMessageChannel(appOrigin)
	popup := &simulatedPopup{closed: make(chan struct{})}
	popup.onOpen = func(string) {
		messages.Post(Message{Type: MessageError, Error: "access denied", Origin: appOrigin})
	}

	h := NewHandshake(models.IntegrationGoogleDrive)
	flow := &PopupFlow{
		Initiate: func(ctx context.Context) (*Authorization, error) {
			return &Authorization{URL: "https://example.com", State: "s"}, nil
		},
		Opener:       popup,
		Messages:     messages,
		Timeout:      2 * time.Second,
		PollInterval: 5 * time.Millisecond,
	}

	err := flow.Run(context.Background(), h)
	assert.Equal(t, apperror.KindAuth, apperror.KindOf(err))
	assert.Equal(t, PhaseFailed, h.Phase())
}
