// Package signature acquires a signature raster from freehand strokes or an
// uploaded image and normalizes it into a cropped, transparent-background
// stamp used for embedding.
package signature

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	_ "image/jpeg"

	"golang.org/x/image/draw"
)

// ErrEmptySignature is returned when the capture surface holds no visible
// mark. Signing must not proceed with an empty stamp.
var ErrEmptySignature = errors.New("signature: no signature content")

const (
	// cropPadding is added around the tight bounding box of the mark.
	cropPadding = 8

	// Freehand stroke width bounds, in surface pixels.
	minStrokeWidth = 1.2
	maxStrokeWidth = 4.5

	// smoothing is the exponential filter weight on the previous width.
	// Thinner at high pointer speed, thicker when slow; the filter keeps
	// width changes gradual so strokes look like pen pressure.
	smoothing = 0.7

	// speed (px/ms) at or above which the stroke is at its thinnest.
	fullSpeed = 2.5
)

// StrokePoint is one sampled pointer position. T is milliseconds since an
// arbitrary epoch shared by all points of a stroke.
type StrokePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T float64 `json:"t"`
}

// Canvas is the in-memory capture surface.
type Canvas struct {
	img       *image.NRGBA
	ink       color.NRGBA
	lastWidth float64
}

// NewCanvas creates a transparent capture surface of the given pixel size.
func NewCanvas(width, height int) (*Canvas, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("signature: invalid canvas size %dx%d", width, height)
	}
	return &Canvas{
		img: image.NewNRGBA(image.Rect(0, 0, width, height)),
		ink: color.NRGBA{R: 0x1a, G: 0x1a, B: 0x2e, A: 0xff},
	}, nil
}

// Stroke renders one freehand stroke onto the surface.
func (c *Canvas) Stroke(points []StrokePoint) {
	if len(points) == 0 {
		return
	}
	if len(points) == 1 {
		c.dot(points[0].X, points[0].Y, maxStrokeWidth/2)
		return
	}

	c.lastWidth = maxStrokeWidth
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		target := targetWidth(prev, cur)
		width := smoothing*c.lastWidth + (1-smoothing)*target
		c.lastWidth = width
		c.segment(prev.X, prev.Y, cur.X, cur.Y, width)
	}
}

// targetWidth maps pointer velocity to a stroke width: fast movement thins
// the line, slow movement thickens it.
func targetWidth(a, b StrokePoint) float64 {
	dt := b.T - a.T
	if dt <= 0 {
		dt = 1
	}
	dist := math.Hypot(b.X-a.X, b.Y-a.Y)
	speed := dist / dt
	if speed > fullSpeed {
		speed = fullSpeed
	}
	frac := speed / fullSpeed
	return maxStrokeWidth - frac*(maxStrokeWidth-minStrokeWidth)
}

// segment draws a line of the given width as overlapping filled discs.
func (c *Canvas) segment(x0, y0, x1, y1, width float64) {
	dist := math.Hypot(x1-x0, y1-y0)
	steps := int(dist) + 1
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		c.dot(x0+t*(x1-x0), y0+t*(y1-y0), width/2)
	}
}

func (c *Canvas) dot(cx, cy, radius float64) {
	if radius < 0.6 {
		radius = 0.6
	}
	x0 := int(math.Floor(cx - radius))
	x1 := int(math.Ceil(cx + radius))
	y0 := int(math.Floor(cy - radius))
	y1 := int(math.Ceil(cy + radius))
	bounds := c.img.Bounds()
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			if x < bounds.Min.X || x >= bounds.Max.X || y < bounds.Min.Y || y >= bounds.Max.Y {
				continue
			}
			if math.Hypot(float64(x)+0.5-cx, float64(y)+0.5-cy) <= radius {
				c.img.SetNRGBA(x, y, c.ink)
			}
		}
	}
}

// LoadUpload decodes an uploaded PNG or JPEG and scales and centers it into
// the surface preserving aspect ratio, replacing any existing content.
func (c *Canvas) LoadUpload(data []byte) error {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("signature: decode upload: %w", err)
	}

	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 {
		return fmt.Errorf("signature: uploaded image has no pixels")
	}

	db := c.img.Bounds()
	scale := math.Min(float64(db.Dx())/float64(sb.Dx()), float64(db.Dy())/float64(sb.Dy()))
	if scale > 1 {
		scale = 1
	}
	w := int(float64(sb.Dx()) * scale)
	h := int(float64(sb.Dy()) * scale)
	offX := (db.Dx() - w) / 2
	offY := (db.Dy() - h) / 2

	c.img = image.NewNRGBA(db)
	target := image.Rect(offX, offY, offX+w, offY+h)
	draw.ApproxBiLinear.Scale(c.img, target, src, sb, draw.Over, nil)
	return nil
}

// Clear wipes the surface back to fully transparent.
func (c *Canvas) Clear() {
	c.img = image.NewNRGBA(c.img.Bounds())
	c.lastWidth = 0
}

// Image is a finalized signature stamp: cropped to content plus padding.
type Image struct {
	img *image.NRGBA
}

// Finalize scans the surface for visible content, crops to the tightest
// bounding box of non-transparent pixels plus padding, and returns the
// session's stamp. An all-transparent surface is rejected.
func (c *Canvas) Finalize() (*Image, error) {
	bounds := c.img.Bounds()
	minX, minY := bounds.Max.X, bounds.Max.Y
	maxX, maxY := bounds.Min.X-1, bounds.Min.Y-1

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if c.img.NRGBAAt(x, y).A == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if maxX < minX {
		return nil, ErrEmptySignature
	}

	crop := image.Rect(minX-cropPadding, minY-cropPadding, maxX+1+cropPadding, maxY+1+cropPadding)
	out := image.NewNRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Draw(out, out.Bounds(), c.img, crop.Min, draw.Over)
	return &Image{img: out}, nil
}

// Raster returns the stamp pixels.
func (i *Image) Raster() image.Image {
	return i.img
}

// Bounds returns the stamp's pixel bounds.
func (i *Image) Bounds() image.Rectangle {
	return i.img.Bounds()
}

// EncodePNG serializes the stamp for session storage.
func (i *Image) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, i.img); err != nil {
		return nil, fmt.Errorf("signature: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePNG restores a stamp previously written by EncodePNG.
func DecodePNG(data []byte) (*Image, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("signature: decode png: %w", err)
	}
	b := src.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	return &Image{img: out}, nil
}
