package placement

import (
	"math"
	"testing"

	"signoff/api/internal/geom"
)

func near(got, want float64) bool {
	return math.Abs(got-want) < 1e-9
}

func TestDragSequence(t *testing.T) {
	s := NewSession("doc1", "step1", "u1", 1)
	canvas := geom.Canvas{Width: 1000, Height: 1000}
	box, _ := s.AddBox(canvas, 1, geom.PixelRect{Left: 100, Top: 100, Width: 200, Height: 80})

	// Grab the box 20px inside its corner and drag 300px right, 150px down.
	if err := s.PointerDown(canvas, box.ID, TargetBody, PointerEvent{X: 120, Y: 120}); err != nil {
		t.Fatal(err)
	}
	if !s.Dragging() {
		t.Fatal("not dragging after down")
	}
	s.PointerMove(canvas, PointerEvent{X: 270, Y: 195})
	s.PointerMove(canvas, PointerEvent{X: 420, Y: 270})

	settled, ok := s.PointerUp()
	if !ok {
		t.Fatal("PointerUp returned no box")
	}
	if s.Dragging() {
		t.Fatal("still dragging after up")
	}
	if !near(settled.X, 0.4) || !near(settled.Y, 0.25) {
		t.Errorf("box at (%g, %g), want (0.4, 0.25)", settled.X, settled.Y)
	}
	// Size unchanged by a drag.
	if settled.W != 0.2 || settled.H != 0.08 {
		t.Errorf("size changed: %+v", settled)
	}
}

func TestDragClampsToPage(t *testing.T) {
	s := NewSession("doc1", "step1", "u1", 1)
	canvas := geom.Canvas{Width: 1000, Height: 1000}
	box, _ := s.AddBox(canvas, 1, geom.PixelRect{Left: 100, Top: 100, Width: 200, Height: 80})

	s.PointerDown(canvas, box.ID, TargetBody, PointerEvent{X: 100, Y: 100})
	s.PointerMove(canvas, PointerEvent{X: 5000, Y: -400})
	settled, _ := s.PointerUp()

	if settled.X+settled.W > 1+geom.Tolerance {
		t.Errorf("box exited right edge: %+v", settled)
	}
	if settled.Y < 0 {
		t.Errorf("box exited top edge: %+v", settled)
	}
}

func TestResizeWidthOnly(t *testing.T) {
	s := NewSession("doc1", "step1", "u1", 1)
	canvas := geom.Canvas{Width: 1000, Height: 1000}
	box, _ := s.AddBox(canvas, 1, geom.PixelRect{Left: 100, Top: 100, Width: 200, Height: 80})

	s.PointerDown(canvas, box.ID, TargetResizeHandle, PointerEvent{X: 300, Y: 140})
	s.PointerMove(canvas, PointerEvent{X: 550, Y: 400})
	settled, _ := s.PointerUp()

	if !near(settled.W, 0.45) {
		t.Errorf("w = %g, want 0.45", settled.W)
	}
	if settled.H != 0.08 {
		t.Errorf("height changed during resize: %g", settled.H)
	}
	if settled.X != 0.1 || settled.Y != 0.1 {
		t.Errorf("position changed during resize: %+v", settled)
	}
}

func TestResizeBounds(t *testing.T) {
	s := NewSession("doc1", "step1", "u1", 1)
	canvas := geom.Canvas{Width: 1000, Height: 1000}
	box, _ := s.AddBox(canvas, 1, geom.PixelRect{Left: 100, Top: 100, Width: 200, Height: 80})

	// Shrink below the floor.
	s.PointerDown(canvas, box.ID, TargetResizeHandle, PointerEvent{X: 300, Y: 140})
	s.PointerMove(canvas, PointerEvent{X: 101, Y: 140})
	settled, _ := s.PointerUp()
	if settled.W < minBoxWidthPx/canvas.Width-geom.Tolerance {
		t.Errorf("w = %g below floor", settled.W)
	}

	// Grow past the page edge.
	s.PointerDown(canvas, box.ID, TargetResizeHandle, PointerEvent{X: 120, Y: 140})
	s.PointerMove(canvas, PointerEvent{X: 5000, Y: 140})
	settled, _ = s.PointerUp()
	if settled.X+settled.W > 1+geom.Tolerance {
		t.Errorf("resize exceeded page: %+v", settled)
	}
}

func TestSingleActiveSlot(t *testing.T) {
	s := NewSession("doc1", "step1", "u1", 1)
	canvas := geom.Canvas{Width: 1000, Height: 1000}
	a, _ := s.AddBox(canvas, 1, geom.PixelRect{Left: 100, Top: 100, Width: 200, Height: 80})
	b, _ := s.AddBox(canvas, 1, geom.PixelRect{Left: 500, Top: 500, Width: 200, Height: 80})

	s.PointerDown(canvas, a.ID, TargetBody, PointerEvent{X: 120, Y: 120})
	// A second down while dragging is ignored.
	s.PointerDown(canvas, b.ID, TargetBody, PointerEvent{X: 520, Y: 520})
	s.PointerMove(canvas, PointerEvent{X: 220, Y: 220})
	settled, _ := s.PointerUp()

	if settled.ID != a.ID {
		t.Errorf("wrong box moved: %s", settled.ID)
	}
	for _, box := range s.Boxes() {
		if box.ID == b.ID && (box.X != 0.5 || box.Y != 0.5) {
			t.Errorf("box b moved: %+v", box)
		}
	}
}

func TestPointerDownOnDeleteIgnored(t *testing.T) {
	s := NewSession("doc1", "step1", "u1", 1)
	canvas := geom.Canvas{Width: 1000, Height: 1000}
	box, _ := s.AddBox(canvas, 1, geom.PixelRect{Left: 100, Top: 100, Width: 200, Height: 80})

	s.PointerDown(canvas, box.ID, TargetDelete, PointerEvent{X: 120, Y: 120})
	if s.Dragging() {
		t.Fatal("delete target started a drag")
	}
}

func TestMoveWhileIdleIgnored(t *testing.T) {
	s := NewSession("doc1", "step1", "u1", 1)
	canvas := geom.Canvas{Width: 1000, Height: 1000}
	box, _ := s.AddBox(canvas, 1, geom.PixelRect{Left: 100, Top: 100, Width: 200, Height: 80})

	s.PointerMove(canvas, PointerEvent{X: 900, Y: 900})
	if got := s.Boxes()[0]; got.X != box.X || got.Y != box.Y {
		t.Errorf("box moved while idle: %+v", got)
	}
	if _, ok := s.PointerUp(); ok {
		t.Error("PointerUp while idle returned a box")
	}
}

func TestRemoveDraggedBoxClearsPointer(t *testing.T) {
	s := NewSession("doc1", "step1", "u1", 1)
	canvas := geom.Canvas{Width: 1000, Height: 1000}
	box, _ := s.AddBox(canvas, 1, geom.PixelRect{Left: 100, Top: 100, Width: 200, Height: 80})

	s.PointerDown(canvas, box.ID, TargetBody, PointerEvent{X: 120, Y: 120})
	s.RemoveBox(box.ID)
	if s.Dragging() {
		t.Fatal("pointer state survived box removal")
	}
}
