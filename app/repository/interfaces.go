package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	Update(user *models.User) error
	GetOrCreateSettings(userID uint) (*models.UserSettings, error)
	SaveSettings(settings *models.UserSettings) error
}

// IntegrationRepository reads the integration catalog.
type IntegrationRepository interface {
	List(ctx context.Context) ([]models.Integration, error)
	GetBySlug(ctx context.Context, slug string) (*models.Integration, error)
	GetByID(ctx context.Context, id uint) (*models.Integration, error)
	Upsert(ctx context.Context, integration *models.Integration) error
}

// ConnectionRepository persists encrypted OAuth grants keyed by (user, integration).
type ConnectionRepository interface {
	Get(ctx context.Context, userID, integrationID uint) (*models.UserIntegrationConnection, error)
	ListByUser(ctx context.Context, userID uint) ([]models.UserIntegrationConnection, error)
	Upsert(ctx context.Context, conn *models.UserIntegrationConnection) error
	UpdateTokens(ctx context.Context, conn *models.UserIntegrationConnection) error
	Delete(ctx context.Context, userID, integrationID uint) error
}

// OAuthStateRepository stores single-use authorization states.
type OAuthStateRepository interface {
	Create(ctx context.Context, state *models.OAuthState) error
	Get(ctx context.Context, state string) (*models.OAuthState, error)
	Delete(ctx context.Context, state string) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// QuotaRepository reads and mutates the per-user quota ledger.
type QuotaRepository interface {
	Get(ctx context.Context, userID uint) (*models.QuotaLedger, error)
	CreateIfNotExists(ctx context.Context, ledger *models.QuotaLedger) (*models.QuotaLedger, error)
	// Adjust loads the ledger row locked for update, applies fn and saves it.
	Adjust(ctx context.Context, userID uint, fn func(ledger *models.QuotaLedger) error) (*models.QuotaLedger, error)
}

// PaymentRepository records verified gateway tokens idempotently.
type PaymentRepository interface {
	CreateIfNotExists(ctx context.Context, record *models.PaymentRecord) (bool, *models.PaymentRecord, error)
	GetByToken(ctx context.Context, token string) (*models.PaymentRecord, error)
	MarkCompleted(ctx context.Context, id uint) (bool, error)
	MarkFailed(ctx context.Context, id uint, reason string) error
}

// ProjectRepository manages projects and their mockups.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	GetByID(ctx context.Context, userID, id uint) (*models.Project, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Project, error)
	Update(ctx context.Context, project *models.Project) error
	Delete(ctx context.Context, userID, id uint) error
}

type MockupRepository interface {
	Create(ctx context.Context, mockup *models.Mockup) error
	ListByProject(ctx context.Context, userID, projectID uint) ([]models.Mockup, error)
	CountByUser(ctx context.Context, userID uint) (int64, error)
}

type BrandKitRepository interface {
	GetByUser(ctx context.Context, userID uint) (*models.BrandKit, error)
	Upsert(ctx context.Context, kit *models.BrandKit) error
}

type PromptTemplateRepository interface {
	Create(ctx context.Context, tpl *models.PromptTemplate) error
	ListByUser(ctx context.Context, userID uint) ([]models.PromptTemplate, error)
	Update(ctx context.Context, tpl *models.PromptTemplate) error
	Delete(ctx context.Context, userID, id uint) error
}

// ProductRepository stores products imported from commerce integrations.
type ProductRepository interface {
	Upsert(ctx context.Context, product *models.ImportedProduct) error
	ListByIntegration(ctx context.Context, userID, integrationID uint) ([]models.ImportedProduct, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User           UserRepository
	Integration    IntegrationRepository
	Connection     ConnectionRepository
	OAuthState     OAuthStateRepository
	Quota          QuotaRepository
	Payment        PaymentRepository
	Project        ProjectRepository
	Mockup         MockupRepository
	BrandKit       BrandKitRepository
	PromptTemplate PromptTemplateRepository
	Product        ProductRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:           NewUserRepository(db),
		Integration:    NewIntegrationRepository(db),
		Connection:     NewConnectionRepository(db),
		OAuthState:     NewOAuthStateRepository(db),
		Quota:          NewQuotaRepository(db),
		Payment:        NewPaymentRepository(db),
		Project:        NewProjectRepository(db),
		Mockup:         NewMockupRepository(db),
		BrandKit:       NewBrandKitRepository(db),
		PromptTemplate: NewPromptTemplateRepository(db),
		Product:        NewProductRepository(db),
	}
}
