// Package capture produces element and full-page screenshots taller than the
// viewport by scrolling, grabbing viewport-sized tiles and stitching them.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"math"

	"go.uber.org/zap"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

var (
	// ErrEmptyBoundingBox is returned when the target has no area, so no tile would be taken.
	ErrEmptyBoundingBox = errors.New("capture: bounding box is empty")
	// ErrCropOutOfBounds is returned when the stitched raster is smaller than the crop rectangle.
	ErrCropOutOfBounds = errors.New("capture: crop rectangle exceeds stitched image")
)

// Metrics is the viewport size in CSS pixels.
type Metrics struct {
	Width  float64
	Height float64
}

// Viewport is the capture backend: something that can scroll a document and
// rasterise what is currently visible.
type Viewport interface {
	Metrics(ctx context.Context) (Metrics, error)
	ScrollTo(ctx context.Context, y float64) error
	CaptureViewport(ctx context.Context) (image.Image, error)
}

// Stitcher captures regions taller than the viewport.
type Stitcher struct {
	// Scale is the ratio of raster pixels to CSS pixels. When zero or less it
	// is measured from the first tile of each capture.
	Scale  float64
	logger *zap.Logger
}

// NewStitcher creates a stitcher. Pass scale <= 0 to measure it per capture.
func NewStitcher(scale float64, logger *zap.Logger) *Stitcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stitcher{Scale: scale, logger: logger.Named("stitcher")}
}

// CaptureElement returns a raster of exactly the element box. It scrolls so
// each tile starts at the next viewport-height offset below the element top,
// so the element must be scrollable to its own top; callers pad the page bottom
// for the last element. Scroll position is left wherever the last tile put it.
func (s *Stitcher) CaptureElement(ctx context.Context, vp Viewport, box schemas.Rect) (*image.RGBA, error) {
	if box.Height <= 0 || box.Width <= 0 {
		return nil, ErrEmptyBoundingBox
	}

	m, err := vp.Metrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read viewport metrics: %w", err)
	}
	if m.Height <= 0 || m.Width <= 0 {
		return nil, fmt.Errorf("capture: invalid viewport %vx%v", m.Width, m.Height)
	}

	var tiles []image.Image
	for i := 0; ; i++ {
		offset := box.Top + float64(i)*m.Height
		if offset >= box.Bottom() {
			break
		}
		tile, err := s.tileAt(ctx, vp, offset)
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, tile)
	}

	scale := s.resolveScale(tiles[0], m)
	stitched := concatVertical(tiles)

	crop := image.Rect(
		round(box.Left*scale),
		0,
		round(box.Right()*scale),
		round(box.Height*scale),
	)
	s.logger.Debug("Stitched element",
		zap.Int("tiles", len(tiles)),
		zap.Float64("scale", scale),
		zap.Stringer("crop", crop),
	)
	return cropTo(stitched, crop)
}

// CaptureFullPage returns a raster of the whole document. The browser clamps
// the final scroll so the last tile shows the page bottom; only the rows not
// already covered are kept from it.
func (s *Stitcher) CaptureFullPage(ctx context.Context, vp Viewport, scrollHeight float64) (*image.RGBA, error) {
	if scrollHeight <= 0 {
		return nil, ErrEmptyBoundingBox
	}

	m, err := vp.Metrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read viewport metrics: %w", err)
	}
	if m.Height <= 0 || m.Width <= 0 {
		return nil, fmt.Errorf("capture: invalid viewport %vx%v", m.Width, m.Height)
	}

	var (
		tiles  []image.Image
		scale  float64
		filled int
	)
	for i := 0; ; i++ {
		offset := float64(i) * m.Height
		if offset >= scrollHeight {
			break
		}
		tile, err := s.tileAt(ctx, vp, offset)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			scale = s.resolveScale(tile, m)
		}

		if remaining := scrollHeight - offset; remaining < m.Height {
			want := round(scrollHeight*scale) - filled
			b := tile.Bounds()
			if want <= 0 || want > b.Dy() {
				return nil, ErrCropOutOfBounds
			}
			last, err := cropTo(tile, image.Rect(0, b.Dy()-want, b.Dx(), b.Dy()))
			if err != nil {
				return nil, err
			}
			tile = last
		}
		filled += tile.Bounds().Dy()
		tiles = append(tiles, tile)
	}

	s.logger.Debug("Stitched full page", zap.Int("tiles", len(tiles)), zap.Float64("scale", scale))
	return concatVertical(tiles), nil
}

func (s *Stitcher) tileAt(ctx context.Context, vp Viewport, offset float64) (image.Image, error) {
	if err := vp.ScrollTo(ctx, offset); err != nil {
		return nil, fmt.Errorf("failed to scroll to %v: %w", offset, err)
	}
	tile, err := vp.CaptureViewport(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture viewport at %v: %w", offset, err)
	}
	return tile, nil
}

func (s *Stitcher) resolveScale(first image.Image, m Metrics) float64 {
	if s.Scale > 0 {
		return s.Scale
	}
	return float64(first.Bounds().Dx()) / m.Width
}

// concatVertical stacks tiles top to bottom, left aligned.
func concatVertical(tiles []image.Image) *image.RGBA {
	width, height := 0, 0
	for _, t := range tiles {
		b := t.Bounds()
		if b.Dx() > width {
			width = b.Dx()
		}
		height += b.Dy()
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	y := 0
	for _, t := range tiles {
		b := t.Bounds()
		draw.Draw(out, image.Rect(0, y, b.Dx(), y+b.Dy()), t, b.Min, draw.Src)
		y += b.Dy()
	}
	return out
}

// cropTo copies r out of src into a new image anchored at the origin.
func cropTo(src image.Image, r image.Rectangle) (*image.RGBA, error) {
	b := src.Bounds()
	r = r.Add(b.Min)
	if r.Empty() || !r.In(b) {
		return nil, fmt.Errorf("%w: want %v within %v", ErrCropOutOfBounds, r, b)
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), src, r.Min, draw.Src)
	return out, nil
}

func round(v float64) int {
	return int(math.Round(v))
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// DecodePNG reads a PNG raster, as returned by the browser's screenshot call.
func DecodePNG(r io.Reader) (image.Image, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}
