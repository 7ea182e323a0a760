package utils

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// GravatarURL returns the Gravatar image for email, falling back to the
// generic silhouette. size defaults to 200px.
func GravatarURL(email string, size int) string {
	if size <= 0 {
		size = 200
	}
	hash := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return fmt.Sprintf("https://www.gravatar.com/avatar/%x?s=%d&d=mp", hash, size)
}

// AvatarURL prefers the stored avatar and falls back to Gravatar.
func AvatarURL(stored, email string) string {
	if stored != "" {
		return stored
	}
	return GravatarURL(email, 0)
}
