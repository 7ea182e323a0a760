package models

import "time"

const (
	MockupKindImage     = "image"
	MockupKindVideo     = "video"
	MockupKindBgRemoval = "background_removal"
)

type Project struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"not null;index" json:"user_id"`
	Name             string    `gorm:"type:varchar(200);not null" json:"name" validate:"required,max=200"`
	Description      string    `gorm:"type:text" json:"description"`
	ProductImagePath string    `gorm:"type:varchar(500)" json:"product_image_path"`
	Mockups          []Mockup  `gorm:"constraint:OnDelete:CASCADE" json:"mockups,omitempty"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Mockup references generated output in object storage, never inline data.
type Mockup struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	ProjectID     *uint     `gorm:"index" json:"project_id"`
	Kind          string    `gorm:"type:varchar(30);not null;default:'image'" json:"kind"`
	StoragePath   string    `gorm:"type:varchar(500);not null" json:"storage_path"`
	ThumbnailPath string    `gorm:"type:varchar(500)" json:"thumbnail_path"`
	Prompt        string    `gorm:"type:text" json:"prompt"`
	Watermarked   bool      `gorm:"default:false" json:"watermarked"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type BrandKit struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	PrimaryColor   string    `gorm:"type:varchar(20)" json:"primary_color"`
	SecondaryColor string    `gorm:"type:varchar(20)" json:"secondary_color"`
	FontFamily     string    `gorm:"type:varchar(100)" json:"font_family"`
	LogoPath       *string   `gorm:"type:varchar(500);default:null" json:"logo_path"`
	UseWatermark   bool      `gorm:"default:false" json:"use_watermark"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasLogo reports whether a logo should be composited onto generated output.
func (b *BrandKit) HasLogo() bool {
	return b != nil && b.UseWatermark && b.LogoPath != nil && *b.LogoPath != ""
}

type PromptTemplate struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Name      string    `gorm:"type:varchar(200);not null" json:"name" validate:"required,max=200"`
	Prompt    string    `gorm:"type:text;not null" json:"prompt" validate:"required"`
	Category  string    `gorm:"type:varchar(50)" json:"category"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ImportedProduct is a product pulled from a commerce integration, keyed by its remote id.
type ImportedProduct struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index:ux_imported_product,unique,priority:1" json:"user_id"`
	IntegrationID uint      `gorm:"not null;index:ux_imported_product,unique,priority:2" json:"integration_id"`
	RemoteID      string    `gorm:"type:varchar(100);not null;index:ux_imported_product,unique,priority:3" json:"remote_id"`
	Title         string    `gorm:"type:varchar(255)" json:"title"`
	ImageURL      string    `gorm:"type:varchar(1000)" json:"image_url"`
	RawJSON       string    `gorm:"type:text" json:"-"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
