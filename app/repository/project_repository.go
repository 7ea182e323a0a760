package repository

import (
	"context"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type projectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) Create(ctx context.Context, project *models.Project) error {
	return r.db.WithContext(ctx).Omit("Mockups").Create(project).Error
}

func (r *projectRepository) GetByID(ctx context.Context, userID, id uint) (*models.Project, error) {
	var p models.Project
	err := r.db.WithContext(ctx).Preload("Mockups").
		Where("user_id = ? AND id = ?", userID, id).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *projectRepository) ListByUser(ctx context.Context, userID uint) ([]models.Project, error) {
	var out []models.Project
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&out).Error
	return out, err
}

func (r *projectRepository) Update(ctx context.Context, project *models.Project) error {
	return r.db.WithContext(ctx).Model(project).
		Where("user_id = ?", project.UserID).
		Updates(map[string]interface{}{
			"name":               project.Name,
			"description":        project.Description,
			"product_image_path": project.ProductImagePath,
		}).Error
}

// Delete removes the project and its mockups. Missing projects are not an error.
func (r *projectRepository) Delete(ctx context.Context, userID, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND project_id = ?", userID, id).Delete(&models.Mockup{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ? AND id = ?", userID, id).Delete(&models.Project{}).Error
	})
}

type mockupRepository struct {
	db *gorm.DB
}

func NewMockupRepository(db *gorm.DB) MockupRepository {
	return &mockupRepository{db: db}
}

func (r *mockupRepository) Create(ctx context.Context, mockup *models.Mockup) error {
	return r.db.WithContext(ctx).Create(mockup).Error
}

func (r *mockupRepository) ListByProject(ctx context.Context, userID, projectID uint) ([]models.Mockup, error) {
	var out []models.Mockup
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND project_id = ?", userID, projectID).
		Order("created_at").
		Find(&out).Error
	return out, err
}

func (r *mockupRepository) CountByUser(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Mockup{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

type brandKitRepository struct {
	db *gorm.DB
}

func NewBrandKitRepository(db *gorm.DB) BrandKitRepository {
	return &brandKitRepository{db: db}
}

func (r *brandKitRepository) GetByUser(ctx context.Context, userID uint) (*models.BrandKit, error) {
	var kit models.BrandKit
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&kit).Error; err != nil {
		return nil, err
	}
	return &kit, nil
}

func (r *brandKitRepository) Upsert(ctx context.Context, kit *models.BrandKit) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"primary_color",
			"secondary_color",
			"font_family",
			"logo_path",
			"use_watermark",
			"updated_at",
		}),
	}).Create(kit).Error; err != nil {
		return err
	}
	return db.Where("user_id = ?", kit.UserID).First(kit).Error
}

type promptTemplateRepository struct {
	db *gorm.DB
}

func NewPromptTemplateRepository(db *gorm.DB) PromptTemplateRepository {
	return &promptTemplateRepository{db: db}
}

func (r *promptTemplateRepository) Create(ctx context.Context, tpl *models.PromptTemplate) error {
	return r.db.WithContext(ctx).Create(tpl).Error
}

func (r *promptTemplateRepository) ListByUser(ctx context.Context, userID uint) ([]models.PromptTemplate, error) {
	var out []models.PromptTemplate
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("name").Find(&out).Error
	return out, err
}

func (r *promptTemplateRepository) Update(ctx context.Context, tpl *models.PromptTemplate) error {
	return r.db.WithContext(ctx).Model(tpl).
		Where("user_id = ?", tpl.UserID).
		Updates(map[string]interface{}{
			"name":     tpl.Name,
			"prompt":   tpl.Prompt,
			"category": tpl.Category,
		}).Error
}

func (r *promptTemplateRepository) Delete(ctx context.Context, userID, id uint) error {
	return r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).Delete(&models.PromptTemplate{}).Error
}
