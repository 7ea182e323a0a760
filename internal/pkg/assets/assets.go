// Package assets stores images together with their thumbnails.
package assets

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/imageprocessor"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/storage"
)

const ThumbnailSize = 400

// Stored holds the object keys of one uploaded image.
type Stored struct {
	Path          string
	ThumbnailPath string
	Format        string
}

// StoreImage uploads data and a webp thumbnail under the user's prefix. If the
// thumbnail cannot be written the original upload is removed again.
func StoreImage(ctx context.Context, store storage.ObjectStorage, userID uint, data []byte) (*Stored, error) {
	img, format, err := imageprocessor.Decode(data)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindValidation, err, "unsupported image")
	}

	path := storage.MockupKey(userID, imageprocessor.Extension(format))
	if err := store.Upload(ctx, path, data, storage.ContentType(path)); err != nil {
		return nil, categorize(err)
	}

	thumb, err := imageprocessor.Encode(imageprocessor.Thumbnail(img, ThumbnailSize), imageprocessor.FormatWebP)
	if err != nil {
		return nil, cleanup(ctx, store, path, apperror.Wrap(apperror.KindStorage, err, "thumbnail encoding failed"))
	}
	thumbPath := storage.ThumbnailKey(userID, ".webp")
	if err := store.Upload(ctx, thumbPath, thumb, "image/webp"); err != nil {
		return nil, cleanup(ctx, store, path, categorize(err))
	}

	return &Stored{Path: path, ThumbnailPath: thumbPath, Format: format}, nil
}

// StoreRaw uploads non-image output such as videos.
func StoreRaw(ctx context.Context, store storage.ObjectStorage, userID uint, data []byte, ext string) (string, error) {
	path := storage.MockupKey(userID, ext)
	if err := store.Upload(ctx, path, data, storage.ContentType(path)); err != nil {
		return "", categorize(err)
	}
	return path, nil
}

// Remove deletes every non-empty key and reports all failures together.
func Remove(ctx context.Context, store storage.ObjectStorage, keys ...string) error {
	var errs error
	for _, k := range keys {
		if k == "" {
			continue
		}
		if err := store.Delete(ctx, k); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errs
}

func cleanup(ctx context.Context, store storage.ObjectStorage, path string, cause error) error {
	if err := store.Delete(ctx, path); err != nil {
		return multierr.Append(cause, fmt.Errorf("cleanup %s: %w", path, err))
	}
	return cause
}

func categorize(err error) error {
	e := apperror.Categorize(err)
	if e.Kind == apperror.KindUnknown {
		return apperror.Wrap(apperror.KindStorage, err, "")
	}
	return e
}
