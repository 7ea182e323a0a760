package integrations

import (
	"context"
	"errors"
	"net/http"
	"path"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/metrics"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/retry"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/storage"
)

type IntegrationReader interface {
	GetBySlug(ctx context.Context, slug string) (*models.Integration, error)
}

type ConnectionStore interface {
	Get(ctx context.Context, userID, integrationID uint) (*models.UserIntegrationConnection, error)
	UpdateTokens(ctx context.Context, conn *models.UserIntegrationConnection) error
}

type ProductStore interface {
	Upsert(ctx context.Context, product *models.ImportedProduct) error
}

// ConfigSource resolves refresh configuration. oauth.Coordinator implements it.
type ConfigSource interface {
	OAuth2Config(integration *models.Integration, settings map[string]string) (*oauth2.Config, error)
}

type TokenVault interface {
	Encrypt(plain string) (string, error)
	Decrypt(encoded string) (string, error)
	EncryptOptional(plain string) (string, error)
	DecryptOptional(encoded string) (string, error)
}

type Engine struct {
	integrations IntegrationReader
	connections  ConnectionStore
	products     ProductStore
	vault        TokenVault
	configs      ConfigSource
	store        storage.ObjectStorage
	catalog      *Catalog
	adapters     map[string]Adapter
	policy       retry.Policy
	httpClient   *http.Client
	parallel     int
	now          func() time.Time
}

type Option func(*Engine)

func WithAdapter(slug string, a Adapter) Option {
	return func(e *Engine) { e.adapters[slug] = a }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithHTTPClient sets the base client for provider calls and token refreshes.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Engine) { e.httpClient = hc }
}

func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallel = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(integrations IntegrationReader, connections ConnectionStore, products ProductStore, vault TokenVault, configs ConfigSource, store storage.ObjectStorage, catalog *Catalog, opts ...Option) *Engine {
	e := &Engine{
		integrations: integrations,
		connections:  connections,
		products:     products,
		vault:        vault,
		configs:      configs,
		store:        store,
		catalog:      catalog,
		adapters:     DefaultAdapters(),
		policy:       retry.DefaultPolicy(),
		parallel:     runtime.NumCPU(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) withBaseClient(ctx context.Context) context.Context {
	if e.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
}

// Connection returns a session for the user's connection to slug, refreshing
// and persisting the access token first when it has expired. Any refresh
// failure is reported as IntegrationDisconnected.
func (e *Engine) Connection(ctx context.Context, userID uint, slug string) (*Session, error) {
	integration, err := e.integrations.GetBySlug(ctx, slug)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Newf(apperror.KindNotFound, "unknown integration %q", slug)
	}
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	conn, err := e.connections.Get(ctx, userID, integration.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.Newf(apperror.KindIntegrationDisconnected, "%s is not connected", integration.Name)
	}
	if err != nil {
		return nil, apperror.Categorize(err)
	}

	access, err := e.vault.Decrypt(conn.AccessTokenEnc)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindIntegrationDisconnected, err, "stored credentials are unreadable, please reconnect")
	}
	token := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if conn.TokenExpiresAt != nil {
		token.Expiry = *conn.TokenExpiresAt
	}

	if conn.TokenExpired(e.now()) {
		token, err = e.refresh(ctx, integration, conn, access)
		if err != nil {
			log.Warnf("[Integrations] refresh for user %d on %s failed: %v", userID, slug, err)
			metrics.Error("integrations", string(apperror.KindIntegrationDisconnected))
			return nil, apperror.Wrap(apperror.KindIntegrationDisconnected, err, "")
		}
	}

	return &Session{
		UserID:      userID,
		Platform:    slug,
		AccessToken: token.AccessToken,
		Settings:    conn.Settings(),
		HTTP:        oauth2.NewClient(e.withBaseClient(ctx), oauth2.StaticTokenSource(token)),
	}, nil
}

func (e *Engine) refresh(ctx context.Context, integration *models.Integration, conn *models.UserIntegrationConnection, access string) (*oauth2.Token, error) {
	refreshToken, err := e.vault.DecryptOptional(conn.RefreshTokenEnc)
	if err != nil {
		return nil, err
	}
	if refreshToken == "" {
		return nil, errors.New("access token expired and no refresh token was granted")
	}
	cfg, err := e.configs.OAuth2Config(integration, conn.Settings())
	if err != nil {
		return nil, err
	}

	// The oauth2 package decides expiry on the wall clock; a fixed past expiry
	// forces the refresh grant.
	stale := &oauth2.Token{AccessToken: access, RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	fresh, err := cfg.TokenSource(e.withBaseClient(ctx), stale).Token()
	if err != nil {
		return nil, err
	}

	accessEnc, err := e.vault.Encrypt(fresh.AccessToken)
	if err != nil {
		return nil, err
	}
	refreshEnc, err := e.vault.EncryptOptional(fresh.RefreshToken)
	if err != nil {
		return nil, err
	}
	conn.AccessTokenEnc = accessEnc
	conn.RefreshTokenEnc = refreshEnc
	conn.TokenExpiresAt = nil
	if !fresh.Expiry.IsZero() {
		exp := fresh.Expiry
		conn.TokenExpiresAt = &exp
	}
	if err := e.connections.UpdateTokens(ctx, conn); err != nil {
		// The fresh token is still usable for this call.
		log.Warnf("[Integrations] persisting refreshed token for user %d failed: %v", conn.UserID, err)
	} else {
		log.Infof("[Integrations] refreshed %s token for user %d", integration.Slug, conn.UserID)
	}
	return fresh, nil
}

// Sync runs op against the user's connection to slug.
func (e *Engine) Sync(ctx context.Context, userID uint, slug string, op Operation, params Params) (result *Result, err error) {
	defer func() { metrics.SyncFinished(slug, string(op), err) }()

	if !op.Valid() {
		return nil, apperror.Newf(apperror.KindValidation, "unknown operation %q", op)
	}
	if e.catalog != nil && !e.catalog.Supports(slug, op) {
		return nil, apperror.Newf(apperror.KindValidation, "%s does not support %s", slug, op)
	}
	adapter, ok := e.adapters[slug]
	if !ok {
		return nil, apperror.Newf(apperror.KindValidation, "no adapter for %s", slug)
	}
	s, err := e.Connection(ctx, userID, slug)
	if err != nil {
		return nil, err
	}

	result = &Result{Operation: op, Platform: slug}
	switch op {
	case OpListFolders:
		err = e.listFolders(ctx, adapter, s, params, result)
	case OpSyncProducts:
		err = e.syncProducts(ctx, adapter, s, params, result)
	case OpPublishMockup:
		if len(params.MockupPaths) != 1 {
			return nil, apperror.New(apperror.KindValidation, "publish_mockup takes exactly one mockup")
		}
		err = e.publishOne(ctx, adapter, s, params.Target, params.MockupPaths[0], result)
	case OpUploadMockups:
		err = e.uploadBatch(ctx, adapter, s, params, result)
	}
	if err != nil {
		return result, err
	}
	log.Infof("[Integrations] %s on %s for user %d: %d/%d persisted", op, slug, userID, result.Persisted, result.Attempted)
	return result, nil
}

func (e *Engine) listFolders(ctx context.Context, a Adapter, s *Session, params Params, result *Result) error {
	folders, err := retry.DoValue(ctx, e.policy, func(ctx context.Context) ([]Folder, error) {
		return a.ListFolders(ctx, s, params.Parent)
	})
	if err != nil {
		return err
	}
	result.Folders = folders
	result.Attempted = 1
	return nil
}

// syncProducts imports the remote products. Upserts run in parallel; a
// failed upsert is logged and skipped.
func (e *Engine) syncProducts(ctx context.Context, a Adapter, s *Session, params Params, result *Result) error {
	remote, err := retry.DoValue(ctx, e.policy, func(ctx context.Context) ([]Product, error) {
		return a.ListProducts(ctx, s, params.Limit)
	})
	if err != nil {
		return err
	}
	integration, err := e.integrations.GetBySlug(ctx, s.Platform)
	if err != nil {
		return apperror.Categorize(err)
	}

	result.Attempted = len(remote)
	saved := make([]*models.ImportedProduct, len(remote))
	var persisted atomic.Int64
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)
	for i, p := range remote {
		g.Go(func() error {
			row := &models.ImportedProduct{
				UserID:        s.UserID,
				IntegrationID: integration.ID,
				RemoteID:      p.RemoteID,
				Title:         p.Title,
				ImageURL:      p.ImageURL,
				RawJSON:       string(p.Raw),
			}
			err := retry.Do(gctx, e.policy, func(ctx context.Context) error {
				return e.products.Upsert(ctx, row)
			})
			if err != nil {
				log.Warnf("[Integrations] product %s for user %d not saved: %v", p.RemoteID, s.UserID, err)
				mu.Lock()
				result.Errors = append(result.Errors, itemError(p.RemoteID, err))
				mu.Unlock()
				return nil
			}
			saved[i] = row
			persisted.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	for _, row := range saved {
		if row != nil {
			result.Products = append(result.Products, *row)
		}
	}
	result.Persisted = int(persisted.Load())
	return nil
}

func (e *Engine) file(ctx context.Context, userID uint, key string) (File, error) {
	if !storage.OwnedBy(key, userID) {
		return File{}, apperror.New(apperror.KindNotFound, "mockup not found")
	}
	data, err := e.store.Download(ctx, key)
	if err != nil {
		return File{}, apperror.Categorize(err)
	}
	return File{Name: path.Base(key), ContentType: storage.ContentType(key), Data: data}, nil
}

func (e *Engine) publish(ctx context.Context, a Adapter, s *Session, target, key string) (*Published, error) {
	f, err := e.file(ctx, s.UserID, key)
	if err != nil {
		return nil, err
	}
	pub, err := retry.DoValue(ctx, e.policy, func(ctx context.Context) (*Published, error) {
		return a.Publish(ctx, s, target, f)
	})
	if err != nil {
		return nil, err
	}
	pub.Source = key
	return pub, nil
}

func (e *Engine) publishOne(ctx context.Context, a Adapter, s *Session, target, key string, result *Result) error {
	result.Attempted = 1
	pub, err := e.publish(ctx, a, s, target, key)
	if err != nil {
		return err
	}
	result.Published = []Published{*pub}
	result.Persisted = 1
	return nil
}

// uploadBatch publishes every mockup independently. Failed items are
// reported in Errors; a revoked grant fails the whole batch.
func (e *Engine) uploadBatch(ctx context.Context, a Adapter, s *Session, params Params, result *Result) error {
	if len(params.MockupPaths) == 0 {
		return apperror.New(apperror.KindValidation, "no mockups to upload")
	}
	result.Attempted = len(params.MockupPaths)
	published := make([]*Published, len(params.MockupPaths))
	var persisted atomic.Int64
	var mu sync.Mutex
	var disconnected error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallel)
	for i, key := range params.MockupPaths {
		g.Go(func() error {
			pub, err := e.publish(gctx, a, s, params.Target, key)
			if err != nil {
				log.Warnf("[Integrations] upload of %s to %s failed: %v", key, s.Platform, err)
				mu.Lock()
				result.Errors = append(result.Errors, itemError(key, err))
				if disconnected == nil && apperror.KindOf(err) == apperror.KindIntegrationDisconnected {
					disconnected = err
				}
				mu.Unlock()
				return nil
			}
			published[i] = pub
			persisted.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	for _, p := range published {
		if p != nil {
			result.Published = append(result.Published, *p)
		}
	}
	result.Persisted = int(persisted.Load())
	return disconnected
}

func itemError(item string, err error) ItemError {
	c := apperror.Categorize(err)
	return ItemError{Item: item, Kind: c.Kind, Message: c.Message}
}
