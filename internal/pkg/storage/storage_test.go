package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
)

type countingStorage struct {
	*Memory
	signCalls int
}

func (c *countingStorage) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	c.signCalls++
	return c.Memory.SignedURL(ctx, key, ttl)
}

type stepClock struct{ now time.Time }

func (s *stepClock) Now() time.Time { return s.now }

func TestSignedURLCacheReusesUntilExpiry(t *testing.T) {
	ctx := context.Background()
	inner := &countingStorage{Memory: NewMemory()}
	require.NoError(t, inner.Upload(ctx, "users/1/mockups/a.png", []byte("x"), ""))

	clk := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewSignedURLCache(inner, 10*time.Minute, clk)

	u1, err := c.SignedURL(ctx, "users/1/mockups/a.png", 0)
	require.NoError(t, err)
	u2, err := c.SignedURL(ctx, "users/1/mockups/a.png", 0)
	require.NoError(t, err)
	assert.Equal(t, u1, u2)
	assert.Equal(t, 1, inner.signCalls)

	// entries expire one margin (ttl/10) before the signed URL does
	clk.now = clk.now.Add(9 * time.Minute)
	_, err = c.SignedURL(ctx, "users/1/mockups/a.png", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.signCalls)
}

func TestSignedURLCacheEvictsOnDelete(t *testing.T) {
	ctx := context.Background()
	inner := &countingStorage{Memory: NewMemory()}
	require.NoError(t, inner.Upload(ctx, "k.png", []byte("x"), ""))
	c := NewSignedURLCache(inner, time.Hour, nil)

	_, err := c.SignedURL(ctx, "k.png", 0)
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "k.png"))

	_, err = c.SignedURL(ctx, "k.png", 0)
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}

func TestKeys(t *testing.T) {
	k := MockupKey(7, "PNG")
	assert.True(t, strings.HasPrefix(k, "users/7/mockups/"))
	assert.True(t, strings.HasSuffix(k, ".png"))
	assert.True(t, OwnedBy(k, 7))
	assert.False(t, OwnedBy(k, 8))
	assert.False(t, OwnedBy("users/7/../8/x.png", 7))
	assert.NotEqual(t, MockupKey(7, ".png"), MockupKey(7, ".png"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", ContentType("a/b.PNG"))
	assert.Equal(t, "image/webp", ContentType("a/b.webp"))
	assert.Equal(t, "image/bmp", ContentType("scan.bmp"))
	assert.Equal(t, "video/mp4", ContentType("v.mp4"))
	assert.Equal(t, "application/octet-stream", ContentType("noext"))
}
