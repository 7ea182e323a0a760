package imageprocessor

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"runtime"

	"github.com/disintegration/imaging"
	"go.uber.org/multierr"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxFreeDimension clamps the longest side of free-tier output.
	MaxFreeDimension = 1024
	WatermarkText    = "MockupSuite"
	WatermarkOpacity = 0.5
	// LogoMaxFraction bounds the brand logo relative to canvas width and height.
	LogoMaxFraction = 0.2
	LogoOpacity     = 0.7
)

// Options selects the post-processing applied to generated output.
type Options struct {
	// FreeTier enables the resize clamp and the text watermark.
	FreeTier     bool
	MaxDimension int
	Text         string
	// Logo is composited after the text watermark when non-nil.
	Logo image.Image
}

func (o Options) maxDimension() int {
	if o.MaxDimension > 0 {
		return o.MaxDimension
	}
	return MaxFreeDimension
}

func (o Options) text() string {
	if o.Text != "" {
		return o.Text
	}
	return WatermarkText
}

// Enabled reports whether Apply would change anything.
func (o Options) Enabled() bool {
	return o.FreeTier || o.Logo != nil
}

// ClampLongestSide scales img down so its longest side is at most max.
// Images already within bounds are returned unchanged.
func ClampLongestSide(img image.Image, max int) image.Image {
	b := img.Bounds()
	if b.Dx() <= max && b.Dy() <= max {
		return img
	}
	return imaging.Fit(img, max, max, imaging.Lanczos)
}

// padding grows with the canvas so the mark keeps its relative position.
func padding(b image.Rectangle) int {
	short := b.Dx()
	if b.Dy() < short {
		short = b.Dy()
	}
	p := int(float64(short) * 0.03)
	if p < 4 {
		p = 4
	}
	return p
}

func renderText(text string) *image.NRGBA {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	ascent := face.Metrics().Ascent.Ceil()
	h := face.Metrics().Height.Ceil()
	img := image.NewNRGBA(image.Rect(0, 0, w+2, h+2))

	shadow := &font.Drawer{Dst: img, Src: image.NewUniform(color.NRGBA{0, 0, 0, 255}), Face: face, Dot: fixed.P(2, ascent+2)}
	shadow.DrawString(text)
	fg := &font.Drawer{Dst: img, Src: image.NewUniform(color.NRGBA{255, 255, 255, 255}), Face: face, Dot: fixed.P(1, ascent+1)}
	fg.DrawString(text)
	return img
}

// StampText draws a semi-transparent text mark in the bottom-right corner.
// It returns the result and the height the mark occupies including padding.
func StampText(img image.Image, text string) (*image.NRGBA, int) {
	b := img.Bounds()
	pad := padding(b)
	label := renderText(text)

	short := b.Dx()
	if b.Dy() < short {
		short = b.Dy()
	}
	targetH := int(float64(short) * 0.05)
	if targetH < label.Bounds().Dy() {
		targetH = label.Bounds().Dy()
	}
	scaled := imaging.Resize(label, 0, targetH, imaging.NearestNeighbor)
	if maxW := b.Dx() - 2*pad; scaled.Bounds().Dx() > maxW {
		if maxW <= 0 {
			return imaging.Clone(img), 0
		}
		scaled = imaging.Resize(label, maxW, 0, imaging.NearestNeighbor)
	}

	x := b.Dx() - scaled.Bounds().Dx() - pad
	y := b.Dy() - scaled.Bounds().Dy() - pad
	if y < 0 {
		y = 0
	}
	return imaging.Overlay(img, scaled, image.Pt(x, y), WatermarkOpacity), scaled.Bounds().Dy() + pad
}

// OverlayLogo composites logo bottom-right, scaled to at most LogoMaxFraction
// of the canvas and never upscaled. reserveBottom keeps it clear of a text mark.
func OverlayLogo(img image.Image, logo image.Image, reserveBottom int) *image.NRGBA {
	b := img.Bounds()
	maxW := int(float64(b.Dx()) * LogoMaxFraction)
	maxH := int(float64(b.Dy()) * LogoMaxFraction)
	if maxW < 1 || maxH < 1 {
		return imaging.Clone(img)
	}
	scaled := imaging.Fit(logo, maxW, maxH, imaging.Lanczos)
	pad := padding(b)
	x := b.Dx() - scaled.Bounds().Dx() - pad
	y := b.Dy() - scaled.Bounds().Dy() - pad - reserveBottom
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	return imaging.Overlay(img, scaled, image.Pt(x, y), LogoOpacity)
}

// Apply runs the free-tier clamp and text mark, then the logo. Paid output
// without a logo is returned untouched.
func Apply(img image.Image, opts Options) image.Image {
	out := img
	reserve := 0
	if opts.FreeTier {
		out = ClampLongestSide(out, opts.maxDimension())
		out, reserve = StampText(out, opts.text())
	}
	if opts.Logo != nil {
		out = OverlayLogo(out, opts.Logo, reserve)
	}
	return out
}

// ApplyBytes decodes, processes and re-encodes one image, keeping its format
// unless it is not encodable.
func ApplyBytes(data []byte, opts Options) ([]byte, string, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, "", err
	}
	if !opts.Enabled() {
		return data, format, nil
	}
	if format != FormatJPEG && format != FormatWebP {
		format = FormatPNG
	}
	out, err := Encode(Apply(img, opts), format)
	if err != nil {
		return nil, "", err
	}
	return out, format, nil
}

// ProcessBatch applies opts to every image in parallel. Images are
// independent: a failed one leaves a nil slot in the result, which keeps
// input order, and its error is combined into err.
func ProcessBatch(ctx context.Context, inputs [][]byte, opts Options) ([][]byte, error) {
	out := make([][]byte, len(inputs))
	errs := make([]error, len(inputs))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			processed, _, err := ApplyBytes(inputs[i], opts)
			if err != nil {
				errs[i] = fmt.Errorf("image %d: %w", i, err)
				return nil
			}
			out[i] = processed
			return nil
		})
	}
	_ = g.Wait()
	return out, multierr.Combine(errs...)
}

// Thumbnail fits img into a size x size box.
func Thumbnail(img image.Image, size int) image.Image {
	return imaging.Fit(img, size, size, imaging.Lanczos)
}
