package placement

import (
	"fmt"

	"signoff/api/internal/geom"
)

// The pointer machine is deliberately independent of any UI framework: it
// consumes synthetic down/move/up events so the drag and resize behavior can
// be tested by feeding event sequences.
//
//	idle → dragging → idle
//	idle → resizing → idle
//
// Only one box can be active at a time; the state is a single slot, not a
// queue.

type pointerMode int

const (
	modeIdle pointerMode = iota
	modeDragging
	modeResizing
)

type pointerState struct {
	mode  pointerMode
	boxID string
	// grab offset from the box origin, in fractions.
	grabDX float64
	grabDY float64
}

// PointerTarget says which part of a box the pointer went down on.
type PointerTarget int

const (
	// TargetBody starts a drag.
	TargetBody PointerTarget = iota
	// TargetResizeHandle starts a width-only resize.
	TargetResizeHandle
	// TargetDelete is handled by RemoveBox, never by the pointer machine.
	TargetDelete
)

// PointerEvent is a synthetic pointer sample in screen pixels.
type PointerEvent struct {
	X float64
	Y float64
}

// PointerDown begins a drag or resize on the identified box. A down event
// while another interaction is active is ignored (single slot).
func (s *Session) PointerDown(canvas geom.Canvas, boxID string, target PointerTarget, ev PointerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pointer.mode != modeIdle {
		return nil
	}
	if target == TargetDelete {
		return nil
	}
	i, ok := s.findBox(boxID)
	if !ok {
		return fmt.Errorf("placement: unknown box %q", boxID)
	}
	if canvas.Width <= 0 || canvas.Height <= 0 {
		return fmt.Errorf("placement: canvas has no area")
	}

	box := s.boxes[i]
	px := (ev.X - canvas.Left) / canvas.Width
	py := (ev.Y - canvas.Top) / canvas.Height

	switch target {
	case TargetBody:
		s.pointer = pointerState{
			mode:   modeDragging,
			boxID:  boxID,
			grabDX: px - box.X,
			grabDY: py - box.Y,
		}
	case TargetResizeHandle:
		s.pointer = pointerState{mode: modeResizing, boxID: boxID}
	}
	return nil
}

// PointerMove updates the active box. Moves while idle are ignored. The box
// is continuously clamped so it never leaves the page.
func (s *Session) PointerMove(canvas geom.Canvas, ev PointerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pointer.mode == modeIdle {
		return
	}
	i, ok := s.findBox(s.pointer.boxID)
	if !ok {
		s.pointer = pointerState{}
		return
	}
	if canvas.Width <= 0 || canvas.Height <= 0 {
		return
	}

	box := s.boxes[i]
	px := (ev.X - canvas.Left) / canvas.Width

	switch s.pointer.mode {
	case modeDragging:
		py := (ev.Y - canvas.Top) / canvas.Height
		box.X = px - s.pointer.grabDX
		box.Y = py - s.pointer.grabDY
		box = box.ClampToPage()
	case modeResizing:
		// Width only; the trailing edge follows the pointer between the
		// minimum floor and the remaining page width from the left edge.
		minW := minBoxWidthPx / canvas.Width
		maxW := 1 - box.X
		w := px - box.X
		if w < minW {
			w = minW
		}
		if w > maxW {
			w = maxW
		}
		box.W = w
	}
	s.boxes[i] = box
}

// PointerUp ends the active interaction and returns the settled box.
func (s *Session) PointerUp() (geom.Box, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pointer.mode == modeIdle {
		return geom.Box{}, false
	}
	i, ok := s.findBox(s.pointer.boxID)
	s.pointer = pointerState{}
	if !ok {
		return geom.Box{}, false
	}
	return s.boxes[i], true
}

// Dragging reports whether an interaction is in flight.
func (s *Session) Dragging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pointer.mode != modeIdle
}
