// Package storage is the object storage collaborator: upload, time-limited
// signed URLs and delete, backed by S3-compatible buckets.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObjectStorage is the contract every component depends on.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// MockupKey returns a fresh object key for generated or migrated output.
func MockupKey(userID uint, ext string) string {
	return fmt.Sprintf("users/%d/mockups/%s%s", userID, uuid.NewString(), normalizeExt(ext))
}

func ThumbnailKey(userID uint, ext string) string {
	return fmt.Sprintf("users/%d/thumbnails/%s%s", userID, uuid.NewString(), normalizeExt(ext))
}

func LogoKey(userID uint, ext string) string {
	return fmt.Sprintf("users/%d/brand/logo-%s%s", userID, uuid.NewString(), normalizeExt(ext))
}

func UploadKey(userID uint, ext string) string {
	return fmt.Sprintf("users/%d/uploads/%s%s", userID, uuid.NewString(), normalizeExt(ext))
}

// OwnedBy reports whether key lives under the user's prefix.
func OwnedBy(key string, userID uint) bool {
	return strings.HasPrefix(key, fmt.Sprintf("users/%d/", userID)) && !strings.Contains(key, "..")
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// ContentType returns the MIME type based on file extension
func ContentType(key string) string {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
