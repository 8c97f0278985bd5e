// Package geom holds the normalized signature-box model and the coordinate
// transforms between screen space (top-left origin, CSS pixels), normalized
// page fractions, and PDF page space (bottom-left origin, points).
package geom

import (
	"fmt"
	"math"
)

// Tolerance is the floating-point slack allowed by the transforms.
const Tolerance = 1e-6

// Box is a signature rectangle in normalized page coordinates. X, Y, W and H
// are fractions in [0,1] of the page's logical width and height at scale 1.0,
// with the origin at the page's top-left corner.
type Box struct {
	ID   string  `json:"id,omitempty"`
	Page int     `json:"page"`
	X    float64 `json:"x_pct"`
	Y    float64 `json:"y_pct"`
	W    float64 `json:"w_pct"`
	H    float64 `json:"h_pct"`
}

// Canvas describes the rendered page surface in screen pixels.
type Canvas struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// PixelRect is a rectangle in screen pixels, top-left origin.
type PixelRect struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// PageSize is the logical page size in PDF points.
type PageSize struct {
	Width  float64
	Height float64
}

// Rect is a rectangle in PDF page space: bottom-left origin, points.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// FromScreen converts a pixel rectangle on the rendered page into normalized
// fractions. Offsets are clamped to [0,1]; the extent is capped so that
// offset+extent never exceeds 1 (the offset is preserved, the extent gives).
func FromScreen(canvas Canvas, rect PixelRect) (Box, error) {
	if canvas.Width <= 0 || canvas.Height <= 0 {
		return Box{}, fmt.Errorf("geom: canvas has no area (%gx%g)", canvas.Width, canvas.Height)
	}

	x := clamp01((rect.Left - canvas.Left) / canvas.Width)
	y := clamp01((rect.Top - canvas.Top) / canvas.Height)
	w := clamp01(rect.Width / canvas.Width)
	h := clamp01(rect.Height / canvas.Height)

	if x+w > 1 {
		w = 1 - x
	}
	if y+h > 1 {
		h = 1 - y
	}

	return Box{X: x, Y: y, W: w, H: h}, nil
}

// ToScreen converts a normalized box back into pixels on the given canvas.
func ToScreen(canvas Canvas, box Box) PixelRect {
	return PixelRect{
		Left:   canvas.Left + box.X*canvas.Width,
		Top:    canvas.Top + box.Y*canvas.Height,
		Width:  box.W * canvas.Width,
		Height: box.H * canvas.Height,
	}
}

// ToPage converts a normalized box into PDF page space. PDF pages have their
// origin at the bottom-left corner, so the Y axis is flipped: the rectangle's
// lower edge sits at pageHeight - (y+h)*pageHeight.
func ToPage(size PageSize, box Box) Rect {
	return Rect{
		X:      box.X * size.Width,
		Y:      size.Height - box.Y*size.Height - box.H*size.Height,
		Width:  box.W * size.Width,
		Height: box.H * size.Height,
	}
}

// Validate reports whether the box is safe to persist. pageCount bounds the
// page number; pass 0 to skip the upper bound (count unknown).
func (b Box) Validate(pageCount int) error {
	for _, v := range []struct {
		name  string
		value float64
	}{{"x_pct", b.X}, {"y_pct", b.Y}, {"w_pct", b.W}, {"h_pct", b.H}} {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return fmt.Errorf("box %s on page %d: %s is not a number", b.label(), b.Page, v.name)
		}
		if v.value < -Tolerance || v.value > 1+Tolerance {
			return fmt.Errorf("box %s on page %d: %s=%g is outside [0,1]", b.label(), b.Page, v.name, v.value)
		}
	}
	if b.W <= Tolerance || b.H <= Tolerance {
		return fmt.Errorf("box %s on page %d has no area", b.label(), b.Page)
	}
	if b.X+b.W > 1+Tolerance {
		return fmt.Errorf("box %s on page %d extends past the right page edge", b.label(), b.Page)
	}
	if b.Y+b.H > 1+Tolerance {
		return fmt.Errorf("box %s on page %d extends past the bottom page edge", b.label(), b.Page)
	}
	if b.Page < 1 {
		return fmt.Errorf("box %s: page %d is invalid", b.label(), b.Page)
	}
	if pageCount > 0 && b.Page > pageCount {
		return fmt.Errorf("box %s: page %d exceeds document page count %d", b.label(), b.Page, pageCount)
	}
	return nil
}

func (b Box) label() string {
	if b.ID != "" {
		return b.ID
	}
	return "?"
}

// ClampToPage moves the box so it stays fully inside the page, preserving its
// size where possible. Used while dragging.
func (b Box) ClampToPage() Box {
	if b.W > 1 {
		b.W = 1
	}
	if b.H > 1 {
		b.H = 1
	}
	b.X = clampRange(b.X, 0, 1-b.W)
	b.Y = clampRange(b.Y, 0, 1-b.H)
	return b
}

func clamp01(v float64) float64 {
	return clampRange(v, 0, 1)
}

func clampRange(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
