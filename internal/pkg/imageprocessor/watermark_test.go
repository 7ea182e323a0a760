package imageprocessor

import (
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gray = color.NRGBA{128, 128, 128, 255}

func solid(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}

func changedIn(before, after image.Image, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if before.At(x, y) != after.At(x, y) {
				n++
			}
		}
	}
	return n
}

func reddish(img image.Image) (image.Rectangle, int) {
	box := image.Rectangle{}
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, _, _ := img.At(x, y).RGBA()
			if r > g+0x2000 {
				if n == 0 {
					box = image.Rect(x, y, x+1, y+1)
				} else {
					box = box.Union(image.Rect(x, y, x+1, y+1))
				}
				n++
			}
		}
	}
	return box, n
}

func TestClampLongestSide(t *testing.T) {
	out := ClampLongestSide(solid(2048, 1024, gray), 1024)
	assert.Equal(t, 1024, out.Bounds().Dx())
	assert.Equal(t, 512, out.Bounds().Dy())

	out = ClampLongestSide(solid(600, 1500, gray), 1024)
	assert.Equal(t, 1024, out.Bounds().Dy())
	assert.InDelta(t, 410, out.Bounds().Dx(), 1)
}

func TestClampLongestSideNeverUpscales(t *testing.T) {
	src := solid(300, 200, gray)
	out := ClampLongestSide(src, 1024)
	assert.Equal(t, src.Bounds(), out.Bounds())
}

func TestStampTextBottomRight(t *testing.T) {
	src := solid(800, 600, gray)
	out, reserved := StampText(src, WatermarkText)

	assert.Greater(t, reserved, 0)
	assert.Equal(t, src.Bounds(), out.Bounds())
	assert.Greater(t, changedIn(src, out, image.Rect(400, 300, 800, 600)), 0)
	assert.Zero(t, changedIn(src, out, image.Rect(0, 0, 400, 300)))
	// padding keeps the outermost strip clean
	assert.Zero(t, changedIn(src, out, image.Rect(796, 0, 800, 600)))
}

func TestOverlayLogoIsBoundedAndBottomRight(t *testing.T) {
	src := solid(1000, 800, gray)
	logo := solid(400, 400, color.NRGBA{255, 0, 0, 255})

	out := OverlayLogo(src, logo, 0)
	box, n := reddish(out)
	require.Greater(t, n, 0)
	assert.LessOrEqual(t, box.Dx(), 200)
	assert.LessOrEqual(t, box.Dy(), 160)
	assert.Greater(t, box.Min.X, 500)
	assert.Greater(t, box.Min.Y, 400)
}

func TestOverlayLogoDoesNotUpscale(t *testing.T) {
	src := solid(1000, 1000, gray)
	logo := solid(50, 40, color.NRGBA{255, 0, 0, 255})

	box, _ := reddish(OverlayLogo(src, logo, 0))
	assert.Equal(t, 50, box.Dx())
	assert.Equal(t, 40, box.Dy())
}

func TestApplyFreeTierWithLogo(t *testing.T) {
	src := solid(2000, 1500, gray)
	logo := solid(500, 500, color.NRGBA{255, 0, 0, 255})

	out := Apply(src, Options{FreeTier: true, Logo: logo})
	assert.Equal(t, 1024, out.Bounds().Dx())
	assert.InDelta(t, 768, out.Bounds().Dy(), 1)

	_, n := reddish(out)
	assert.Greater(t, n, 0, "logo composited")

	plain := ClampLongestSide(src, MaxFreeDimension)
	assert.Greater(t, changedIn(plain, out, image.Rect(512, 384, 1024, 768)), 0)
}

func TestApplyPaidWithoutLogoIsUntouched(t *testing.T) {
	src := solid(2000, 1500, gray)
	out := Apply(src, Options{})
	assert.Equal(t, src.Bounds(), out.Bounds())
	assert.Zero(t, changedIn(src, out, src.Bounds()))
}

func TestProcessBatchKeepsOrder(t *testing.T) {
	var inputs [][]byte
	for _, w := range []int{1200, 1600, 2400} {
		data, err := Encode(solid(w, 600, gray), FormatPNG)
		require.NoError(t, err)
		inputs = append(inputs, data)
	}

	out, err := ProcessBatch(context.Background(), inputs, Options{FreeTier: true})
	require.NoError(t, err)
	require.Len(t, out, 3)

	wantH := []int{512, 384, 256}
	for i, data := range out {
		img, format, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, "png", format)
		assert.Equal(t, 1024, img.Bounds().Dx())
		assert.InDelta(t, wantH[i], img.Bounds().Dy(), 1)
	}
}

func TestProcessBatchSkipsBadInput(t *testing.T) {
	good, err := Encode(solid(10, 10, gray), FormatPNG)
	require.NoError(t, err)

	out, err := ProcessBatch(context.Background(), [][]byte{good, []byte("nope"), good}, Options{FreeTier: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image 1")
	require.Len(t, out, 3)
	assert.NotNil(t, out[0])
	assert.Nil(t, out[1])
	assert.NotNil(t, out[2])
}

func TestDecodeDataURL(t *testing.T) {
	raw := []byte{1, 2, 3}
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeDataURL("data:image/png;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeDataURL(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodeDataURL("")
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestEncodeJPEGRoundTrip(t *testing.T) {
	data, err := Encode(solid(20, 10, gray), "jpg")
	require.NoError(t, err)
	img, format, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 1, Orientation(data))
}

func TestApplyOrientation(t *testing.T) {
	src := solid(40, 20, gray)
	assert.Equal(t, 20, applyOrientation(src, 6).Bounds().Dx())
	assert.Equal(t, 40, applyOrientation(src, 3).Bounds().Dx())
	assert.Equal(t, 40, applyOrientation(src, 1).Bounds().Dx())
}
