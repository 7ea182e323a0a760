// Package migration moves a legacy local export (inline base64 images) into
// the remote store. Source data is never deleted here; callers use
// LegacyStore.Backup before and decide themselves when to clear it.
package migration

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"go.uber.org/multierr"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/assets"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/imageprocessor"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/metrics"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/storage"
)

type ProjectStore interface {
	Create(ctx context.Context, project *models.Project) error
	Update(ctx context.Context, project *models.Project) error
	Delete(ctx context.Context, userID, id uint) error
}

type MockupStore interface {
	Create(ctx context.Context, mockup *models.Mockup) error
}

type BrandKitStore interface {
	Upsert(ctx context.Context, kit *models.BrandKit) error
}

type TemplateStore interface {
	Create(ctx context.Context, tpl *models.PromptTemplate) error
}

// Result summarises one run. It is returned to the caller and never persisted.
type Result struct {
	ProjectsMigrated  int      `json:"projects_migrated"`
	MockupsMigrated   int      `json:"mockups_migrated"`
	TemplatesMigrated int      `json:"templates_migrated"`
	BrandKitMigrated  bool     `json:"brand_kit_migrated"`
	Errors            []string `json:"errors"`
	Success           bool     `json:"success"`
	RolledBack        int      `json:"rolled_back"`
}

func (r *Result) addError(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) migratedAnything() bool {
	return r.ProjectsMigrated > 0 || r.MockupsMigrated > 0 || r.TemplatesMigrated > 0 || r.BrandKitMigrated
}

type Migrator struct {
	projects  ProjectStore
	mockups   MockupStore
	brandKits BrandKitStore
	templates TemplateStore
	store     storage.ObjectStorage
}

func NewMigrator(projects ProjectStore, mockups MockupStore, brandKits BrandKitStore, templates TemplateStore, store storage.ObjectStorage) *Migrator {
	return &Migrator{
		projects:  projects,
		mockups:   mockups,
		brandKits: brandKits,
		templates: templates,
		store:     store,
	}
}

// run tracks what this invocation created so a fatal error can undo it.
type run struct {
	userID   uint
	result   *Result
	projects []uint
	objects  []string
}

// Migrate copies projects, then the brand kit, then templates. Per-item
// failures are recorded in Errors and skipped. A fatal error stops the run
// and deletes the projects created by it; brand kit and templates stay.
func (m *Migrator) Migrate(ctx context.Context, userID uint, legacy *LegacyExport) *Result {
	res := &Result{Errors: []string{}}
	if legacy == nil {
		res.addError("nothing to migrate")
		metrics.MigrationFinished(false)
		return res
	}

	r := &run{userID: userID, result: res}
	err := m.migrateProjects(ctx, r, legacy.Projects)
	if err == nil && legacy.BrandKit != nil {
		err = m.migrateBrandKit(ctx, r, legacy.BrandKit)
	}
	if err == nil {
		err = m.migrateTemplates(ctx, r, legacy.Templates)
	}

	if err != nil {
		log.Errorf("[Migration] user %d aborted: %v", userID, err)
		res.addError("migration aborted: %s", apperror.Categorize(err).Message)
		m.rollback(ctx, r)
	}

	res.Success = err == nil && res.migratedAnything()
	metrics.MigrationFinished(res.Success)
	log.Infof("[Migration] user %d: projects=%d mockups=%d templates=%d brand_kit=%t errors=%d success=%t",
		userID, res.ProjectsMigrated, res.MockupsMigrated, res.TemplatesMigrated, res.BrandKitMigrated, len(res.Errors), res.Success)
	return res
}

func (m *Migrator) migrateProjects(ctx context.Context, r *run, projects []LegacyProject) error {
	for i, lp := range projects {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := lp.Name
		if name == "" {
			name = fmt.Sprintf("Project %d", i+1)
		}

		project := &models.Project{UserID: r.userID, Name: name, Description: lp.Description}
		if err := m.projects.Create(ctx, project); err != nil {
			if fatal(err) {
				return fmt.Errorf("create project %q: %w", name, err)
			}
			r.result.addError("project %q: %s", name, apperror.Categorize(err).Message)
			continue
		}
		r.projects = append(r.projects, project.ID)
		r.result.ProjectsMigrated++

		if lp.ProductImage != "" {
			stored, err := m.upload(ctx, r, lp.ProductImage)
			if err != nil {
				r.result.addError("project %q: product image: %s", name, apperror.Categorize(err).Message)
			} else {
				project.ProductImagePath = stored.Path
				if err := m.projects.Update(ctx, project); err != nil {
					r.result.addError("project %q: product image: %s", name, apperror.Categorize(err).Message)
				}
			}
		}

		for j, img := range lp.SavedImages {
			if err := m.migrateImage(ctx, r, project.ID, img); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.result.addError("project %q: image %d: %s", name, j+1, apperror.Categorize(err).Message)
				continue
			}
			r.result.MockupsMigrated++
		}
	}
	return nil
}

func (m *Migrator) migrateImage(ctx context.Context, r *run, projectID uint, img LegacyImage) error {
	stored, err := m.upload(ctx, r, img.Data)
	if err != nil {
		return err
	}
	pid := projectID
	mockup := &models.Mockup{
		UserID:        r.userID,
		ProjectID:     &pid,
		Kind:          models.MockupKindImage,
		StoragePath:   stored.Path,
		ThumbnailPath: stored.ThumbnailPath,
		Prompt:        img.Prompt,
	}
	if err := m.mockups.Create(ctx, mockup); err != nil {
		if cerr := assets.Remove(context.WithoutCancel(ctx), m.store, stored.Path, stored.ThumbnailPath); cerr != nil {
			log.Warnf("[Migration] cleanup after failed mockup row: %v", cerr)
		}
		return err
	}
	return nil
}

func (m *Migrator) upload(ctx context.Context, r *run, dataURL string) (*assets.Stored, error) {
	data, err := imageprocessor.DecodeDataURL(dataURL)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindValidation, err, "invalid inline image")
	}
	stored, err := assets.StoreImage(ctx, m.store, r.userID, data)
	if err != nil {
		return nil, err
	}
	r.objects = append(r.objects, stored.Path, stored.ThumbnailPath)
	return stored, nil
}

func (m *Migrator) migrateBrandKit(ctx context.Context, r *run, lk *LegacyBrandKit) error {
	kit := &models.BrandKit{
		UserID:         r.userID,
		PrimaryColor:   lk.PrimaryColor,
		SecondaryColor: lk.SecondaryColor,
		FontFamily:     lk.FontFamily,
		UseWatermark:   lk.UseWatermark,
	}
	if lk.Logo != "" {
		if p, err := m.uploadLogo(ctx, r.userID, lk.Logo); err != nil {
			r.result.addError("brand kit: logo: %s", apperror.Categorize(err).Message)
		} else {
			kit.LogoPath = &p
		}
	}

	if err := m.brandKits.Upsert(ctx, kit); err != nil {
		if fatal(err) {
			return fmt.Errorf("save brand kit: %w", err)
		}
		r.result.addError("brand kit: %s", apperror.Categorize(err).Message)
		return nil
	}
	r.result.BrandKitMigrated = true
	return nil
}

// uploadLogo keeps the original bytes; logos are not thumbnailed.
func (m *Migrator) uploadLogo(ctx context.Context, userID uint, dataURL string) (string, error) {
	data, err := imageprocessor.DecodeDataURL(dataURL)
	if err != nil {
		return "", apperror.Wrap(apperror.KindValidation, err, "invalid logo")
	}
	_, format, err := imageprocessor.Decode(data)
	if err != nil {
		return "", apperror.Wrap(apperror.KindValidation, err, "unsupported logo format")
	}
	key := storage.LogoKey(userID, imageprocessor.Extension(format))
	if err := m.store.Upload(ctx, key, data, storage.ContentType(key)); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Migrator) migrateTemplates(ctx context.Context, r *run, templates []LegacyTemplate) error {
	for _, lt := range templates {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lt.Name == "" || lt.Prompt == "" {
			r.result.addError("template %q: name and prompt are required", lt.Name)
			continue
		}
		tpl := &models.PromptTemplate{UserID: r.userID, Name: lt.Name, Prompt: lt.Prompt, Category: lt.Category}
		if err := m.templates.Create(ctx, tpl); err != nil {
			if fatal(err) {
				return fmt.Errorf("create template %q: %w", lt.Name, err)
			}
			r.result.addError("template %q: %s", lt.Name, apperror.Categorize(err).Message)
			continue
		}
		r.result.TemplatesMigrated++
	}
	return nil
}

// rollback deletes projects created in this run. Mockup rows cascade with
// their project; their objects are removed best effort.
func (m *Migrator) rollback(ctx context.Context, r *run) {
	ctx = context.WithoutCancel(ctx)

	var errs error
	for _, id := range r.projects {
		if err := m.projects.Delete(ctx, r.userID, id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete project %d: %w", id, err))
			continue
		}
		r.result.RolledBack++
	}
	if err := assets.Remove(ctx, m.store, r.objects...); err != nil {
		errs = multierr.Append(errs, err)
	}

	if errs != nil {
		for _, err := range multierr.Errors(errs) {
			r.result.addError("rollback: %v", err)
		}
		log.Errorf("[Migration] rollback for user %d incomplete: %v", r.userID, errs)
	}
	r.result.ProjectsMigrated -= r.result.RolledBack
	if r.result.ProjectsMigrated == 0 {
		r.result.MockupsMigrated = 0
	}
}

// fatal reports infrastructure failures that make continuing pointless.
func fatal(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch apperror.Categorize(err).Kind {
	case apperror.KindDatabase, apperror.KindNetwork, apperror.KindAuth:
		return true
	}
	return false
}

// Summary is a short human readable line for CLI output.
func (r *Result) Summary() string {
	status := "failed"
	if r.Success {
		status = "ok"
	}
	return fmt.Sprintf("%s: %d projects, %d mockups, %d templates, brand kit %t, %d errors",
		status, r.ProjectsMigrated, r.MockupsMigrated, r.TemplatesMigrated, r.BrandKitMigrated, len(r.Errors))
}
