// Package upload validates user supplied images before they reach storage
// or the generation provider.
package upload

import (
	"errors"
	"net/http"
	"strings"
)

// MaxImageSize bounds a single source image.
const MaxImageSize = 20 << 20

var allowedMime = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	// SVG stays out until it can be sanitized
}

var (
	ErrEmpty       = errors.New("image is empty")
	ErrTooLarge    = errors.New("image is larger than 20 MB")
	ErrScriptable  = errors.New("HTML, XML and SVG content is not allowed")
	ErrUnsupported = errors.New("only JPG, PNG, GIF, WEBP and BMP images are supported")
)

// SniffImage checks the leading bytes of data against the allowed image
// types and returns the detected MIME type.
func SniffImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if len(data) > MaxImageSize {
		return "", ErrTooLarge
	}
	detected := http.DetectContentType(data)
	if strings.HasPrefix(detected, "text/html") || strings.HasPrefix(detected, "application/xhtml") ||
		strings.HasPrefix(detected, "text/xml") || strings.HasPrefix(detected, "application/xml") ||
		detected == "image/svg+xml" {
		return "", ErrScriptable
	}
	if !allowedMime[detected] {
		return "", ErrUnsupported
	}
	return detected, nil
}
