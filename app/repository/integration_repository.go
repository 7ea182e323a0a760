package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type integrationRepository struct {
	db *gorm.DB
}

func NewIntegrationRepository(db *gorm.DB) IntegrationRepository {
	return &integrationRepository{db: db}
}

func (r *integrationRepository) List(ctx context.Context) ([]models.Integration, error) {
	var out []models.Integration
	err := r.db.WithContext(ctx).Order("category, name").Find(&out).Error
	return out, err
}

func (r *integrationRepository) GetBySlug(ctx context.Context, slug string) (*models.Integration, error) {
	var in models.Integration
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&in).Error; err != nil {
		return nil, err
	}
	return &in, nil
}

func (r *integrationRepository) GetByID(ctx context.Context, id uint) (*models.Integration, error) {
	var in models.Integration
	if err := r.db.WithContext(ctx).First(&in, id).Error; err != nil {
		return nil, err
	}
	return &in, nil
}

// Upsert is used by the catalog seeder; the slug is the natural key.
func (r *integrationRepository) Upsert(ctx context.Context, integration *models.Integration) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "category", "status", "scopes", "updated_at"}),
	}).Create(integration).Error; err != nil {
		return err
	}
	return db.Where("slug = ?", integration.Slug).First(integration).Error
}

type connectionRepository struct {
	db *gorm.DB
}

func NewConnectionRepository(db *gorm.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func (r *connectionRepository) Get(ctx context.Context, userID, integrationID uint) (*models.UserIntegrationConnection, error) {
	var conn models.UserIntegrationConnection
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND integration_id = ?", userID, integrationID).
		First(&conn).Error
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *connectionRepository) ListByUser(ctx context.Context, userID uint) ([]models.UserIntegrationConnection, error) {
	var out []models.UserIntegrationConnection
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Find(&out).Error
	return out, err
}

// Upsert overwrites an existing (user, integration) grant on reconnect.
func (r *connectionRepository) Upsert(ctx context.Context, conn *models.UserIntegrationConnection) error {
	db := r.db.WithContext(ctx)
	if conn.ConnectedAt.IsZero() {
		conn.ConnectedAt = time.Now()
	}
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "integration_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token_enc",
			"refresh_token_enc",
			"token_expires_at",
			"settings_json",
			"connected_at",
			"updated_at",
		}),
	}).Create(conn).Error; err != nil {
		return err
	}

	return db.Where("user_id = ? AND integration_id = ?", conn.UserID, conn.IntegrationID).First(conn).Error
}

func (r *connectionRepository) UpdateTokens(ctx context.Context, conn *models.UserIntegrationConnection) error {
	updates := map[string]interface{}{
		"access_token_enc":  conn.AccessTokenEnc,
		"refresh_token_enc": conn.RefreshTokenEnc,
		"token_expires_at":  conn.TokenExpiresAt,
		"updated_at":        time.Now(),
	}
	return r.db.WithContext(ctx).Model(&models.UserIntegrationConnection{}).
		Where("user_id = ? AND integration_id = ?", conn.UserID, conn.IntegrationID).
		Updates(updates).Error
}

// Delete is idempotent; deleting a missing row is not an error.
func (r *connectionRepository) Delete(ctx context.Context, userID, integrationID uint) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND integration_id = ?", userID, integrationID).
		Delete(&models.UserIntegrationConnection{}).Error
}

type oauthStateRepository struct {
	db *gorm.DB
}

func NewOAuthStateRepository(db *gorm.DB) OAuthStateRepository {
	return &oauthStateRepository{db: db}
}

func (r *oauthStateRepository) Create(ctx context.Context, state *models.OAuthState) error {
	return r.db.WithContext(ctx).Create(state).Error
}

func (r *oauthStateRepository) Get(ctx context.Context, state string) (*models.OAuthState, error) {
	var s models.OAuthState
	if err := r.db.WithContext(ctx).Where("state = ?", state).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// Delete reports whether this call removed the row, so concurrent consumers
// can tell who won.
func (r *oauthStateRepository) Delete(ctx context.Context, state string) (bool, error) {
	tx := r.db.WithContext(ctx).Where("state = ?", state).Delete(&models.OAuthState{})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *oauthStateRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.OAuthState{})
	return tx.RowsAffected, tx.Error
}

type productRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

// Upsert keys imported products by remote id so re-sync never duplicates.
func (r *productRepository) Upsert(ctx context.Context, product *models.ImportedProduct) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "integration_id"},
			{Name: "remote_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"title", "image_url", "raw_json", "updated_at"}),
	}).Create(product).Error
}

func (r *productRepository) ListByIntegration(ctx context.Context, userID, integrationID uint) ([]models.ImportedProduct, error) {
	var out []models.ImportedProduct
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND integration_id = ?", userID, integrationID).
		Order("title").
		Find(&out).Error
	return out, err
}
