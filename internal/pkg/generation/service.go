// Package generation wraps every billable provider call with the quota gate,
// free-tier post-processing, storage and the best-effort decrement.
package generation

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/MockupSuite/app/models"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/assets"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/entitlements"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/env"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/genai"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/imageprocessor"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/metrics"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/storage"
)

const DefaultVideoTimeout = 180 * time.Second

// VideoTimeoutFromEnv reads GENERATION_VIDEO_TIMEOUT, a Go duration.
func VideoTimeoutFromEnv() time.Duration {
	return env.GetDuration("GENERATION_VIDEO_TIMEOUT", DefaultVideoTimeout)
}

const maxImagesPerRequest = 4

// Gate is the quota check in front of and the decrement behind a generation.
type Gate interface {
	Check(ctx context.Context, userID uint, kind entitlements.Kind) error
	Ledger(ctx context.Context, userID uint) (*models.QuotaLedger, error)
	DecrementBestEffort(ctx context.Context, userID uint, kind entitlements.Kind, n int)
}

type MockupWriter interface {
	Create(ctx context.Context, mockup *models.Mockup) error
}

type BrandKitReader interface {
	GetByUser(ctx context.Context, userID uint) (*models.BrandKit, error)
}

type Service struct {
	gate         Gate
	provider     genai.Provider
	store        storage.ObjectStorage
	mockups      MockupWriter
	brandKits    BrandKitReader
	videoTimeout time.Duration
}

func NewService(gate Gate, provider genai.Provider, store storage.ObjectStorage, mockups MockupWriter, brandKits BrandKitReader) *Service {
	return &Service{
		gate:         gate,
		provider:     provider,
		store:        store,
		mockups:      mockups,
		brandKits:    brandKits,
		videoTimeout: DefaultVideoTimeout,
	}
}

// WithVideoTimeout overrides the deadline raced against video generation.
func (s *Service) WithVideoTimeout(d time.Duration) *Service {
	if d > 0 {
		s.videoTimeout = d
	}
	return s
}

type ImageInput struct {
	ProjectID   *uint
	Prompt      string
	Source      []byte
	SourceMime  string
	Count       int
	AspectRatio string
}

type VideoInput struct {
	ProjectID   *uint
	Prompt      string
	Source      []byte
	SourceMime  string
	AspectRatio string
}

type BackgroundInput struct {
	ProjectID  *uint
	Source     []byte
	SourceMime string
}

// Result lists the persisted mockups of one request.
type Result struct {
	Mockups     []models.Mockup `json:"mockups"`
	Watermarked bool            `json:"watermarked"`
}

func (s *Service) GenerateImages(ctx context.Context, userID uint, in ImageInput) (*Result, error) {
	kind := entitlements.KindImageGeneration
	if err := s.gate.Check(ctx, userID, kind); err != nil {
		return nil, err
	}
	count := min(max(in.Count, 1), maxImagesPerRequest)

	started := time.Now()
	images, err := s.provider.GenerateImages(ctx, genai.ImageRequest{
		Prompt:      in.Prompt,
		Source:      in.Source,
		SourceMime:  in.SourceMime,
		Count:       count,
		AspectRatio: in.AspectRatio,
	})
	metrics.ObserveGeneration(string(kind), time.Since(started).Seconds(), err)
	if err != nil {
		return nil, apperror.Categorize(err)
	}

	raw := make([][]byte, len(images))
	for i, img := range images {
		raw[i] = img.Data
	}
	return s.finishImages(ctx, userID, kind, in.ProjectID, in.Prompt, raw)
}

func (s *Service) RemoveBackground(ctx context.Context, userID uint, in BackgroundInput) (*Result, error) {
	kind := entitlements.KindBackgroundRemoval
	if len(in.Source) == 0 {
		return nil, apperror.New(apperror.KindValidation, "source image is required")
	}
	if err := s.gate.Check(ctx, userID, kind); err != nil {
		return nil, err
	}

	started := time.Now()
	img, err := s.provider.RemoveBackground(ctx, in.Source, in.SourceMime)
	metrics.ObserveGeneration(string(kind), time.Since(started).Seconds(), err)
	if err != nil {
		return nil, apperror.Categorize(err)
	}
	return s.finishImages(ctx, userID, kind, in.ProjectID, "", [][]byte{img.Data})
}

// GenerateVideo races the provider against the video timeout. A timeout is
// reported as GenerationTimeout, distinct from provider failures.
func (s *Service) GenerateVideo(ctx context.Context, userID uint, in VideoInput) (*Result, error) {
	kind := entitlements.KindVideoGeneration
	if err := s.gate.Check(ctx, userID, kind); err != nil {
		return nil, err
	}

	type outcome struct {
		video *genai.Video
		err   error
	}
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan outcome, 1)
	started := time.Now()
	go func() {
		v, err := s.provider.GenerateVideo(callCtx, genai.VideoRequest{
			Prompt:      in.Prompt,
			Source:      in.Source,
			SourceMime:  in.SourceMime,
			AspectRatio: in.AspectRatio,
		})
		done <- outcome{video: v, err: err}
	}()

	timer := time.NewTimer(s.videoTimeout)
	defer timer.Stop()

	var out outcome
	select {
	case out = <-done:
	case <-timer.C:
		metrics.ObserveGeneration(string(kind), time.Since(started).Seconds(), errors.New("timeout"))
		log.Warnf("[Generation] video for user %d timed out after %s", userID, s.videoTimeout)
		return nil, apperror.New(apperror.KindGenerationTimeout, "")
	case <-ctx.Done():
		return nil, apperror.Categorize(ctx.Err())
	}
	metrics.ObserveGeneration(string(kind), time.Since(started).Seconds(), out.err)
	if out.err != nil {
		return nil, apperror.Categorize(out.err)
	}

	path, err := assets.StoreRaw(ctx, s.store, userID, out.video.Data, ".mp4")
	if err != nil {
		return nil, err
	}
	m := models.Mockup{UserID: userID, ProjectID: in.ProjectID, Kind: models.MockupKindVideo, StoragePath: path, Prompt: in.Prompt}
	if err := s.mockups.Create(ctx, &m); err != nil {
		_ = assets.Remove(ctx, s.store, path)
		return nil, apperror.Categorize(err)
	}

	s.gate.DecrementBestEffort(ctx, userID, kind, 1)
	return &Result{Mockups: []models.Mockup{m}}, nil
}

// finishImages applies plan and brand-kit processing, stores every image and
// decrements by the number actually delivered.
func (s *Service) finishImages(ctx context.Context, userID uint, kind entitlements.Kind, projectID *uint, prompt string, raw [][]byte) (*Result, error) {
	opts, err := s.processingOptions(ctx, userID)
	if err != nil {
		return nil, err
	}

	processed := raw
	if opts.Enabled() {
		processed, err = imageprocessor.ProcessBatch(ctx, raw, opts)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperror.Categorize(ctxErr)
		}
		if err != nil {
			log.Warnf("[Generation] post-processing for user %d dropped images: %v", userID, err)
		}
	}

	mockupKind := models.MockupKindImage
	if kind == entitlements.KindBackgroundRemoval {
		mockupKind = models.MockupKindBgRemoval
	}

	result := &Result{Watermarked: opts.FreeTier}
	for _, data := range processed {
		if data == nil {
			continue
		}
		stored, err := assets.StoreImage(ctx, s.store, userID, data)
		if err != nil {
			log.Errorf("[Generation] storing output for user %d failed: %v", userID, err)
			continue
		}
		m := models.Mockup{
			UserID:        userID,
			ProjectID:     projectID,
			Kind:          mockupKind,
			StoragePath:   stored.Path,
			ThumbnailPath: stored.ThumbnailPath,
			Prompt:        prompt,
			Watermarked:   opts.FreeTier,
		}
		if err := s.mockups.Create(ctx, &m); err != nil {
			log.Errorf("[Generation] saving mockup for user %d failed: %v", userID, err)
			_ = assets.Remove(ctx, s.store, stored.Path, stored.ThumbnailPath)
			continue
		}
		result.Mockups = append(result.Mockups, m)
	}
	if len(result.Mockups) == 0 {
		return nil, apperror.New(apperror.KindStorage, "generated output could not be saved")
	}

	s.gate.DecrementBestEffort(ctx, userID, kind, len(result.Mockups))
	return result, nil
}

func (s *Service) processingOptions(ctx context.Context, userID uint) (imageprocessor.Options, error) {
	var opts imageprocessor.Options
	ledger, err := s.gate.Ledger(ctx, userID)
	if err != nil {
		return opts, err
	}
	opts.FreeTier = entitlements.HasWatermark(entitlements.NormalizePlan(ledger.Plan))

	if s.brandKits == nil {
		return opts, nil
	}
	kit, err := s.brandKits.GetByUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !kit.HasLogo()) {
		return opts, nil
	}
	if err != nil {
		return opts, apperror.Categorize(err)
	}

	data, err := s.store.Download(ctx, *kit.LogoPath)
	if err != nil {
		log.Warnf("[Generation] brand logo for user %d unavailable: %v", userID, err)
		return opts, nil
	}
	logo, _, err := imageprocessor.Decode(data)
	if err != nil {
		log.Warnf("[Generation] brand logo for user %d unreadable: %v", userID, err)
		return opts, nil
	}
	opts.Logo = logo
	return opts, nil
}
