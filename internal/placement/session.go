// Package placement manages the transient signature layout a signer builds
// against a rendered page: box add/move/resize/delete, drag state, and the
// ready-to-sign check. All state is session-scoped; there are no globals.
package placement

import (
	"fmt"
	"sync"

	"signoff/api/internal/geom"
	"signoff/api/internal/signature"
	"signoff/api/internal/util"
)

// Default box pixel size at render scale 1.0, converted into fractions
// against the live canvas when the box is created.
const (
	defaultBoxWidthPx  = 160.0
	defaultBoxHeightPx = 56.0
	defaultMargin      = 0.1

	// minBoxWidthPx is the resize floor.
	minBoxWidthPx = 24.0
)

// Session holds one signer's pending layout for one workflow step.
type Session struct {
	ID         string
	DocumentID string
	StepID     string
	ActorID    string
	PageCount  int

	mu      sync.Mutex
	boxes   []geom.Box
	image   *signature.Image
	pointer pointerState
}

// NewSession opens a placement session for the given pending step.
func NewSession(documentID, stepID, actorID string, pageCount int) *Session {
	return &Session{
		ID:         util.NewID("ps"),
		DocumentID: documentID,
		StepID:     stepID,
		ActorID:    actorID,
		PageCount:  pageCount,
	}
}

// Boxes returns a copy of the current layout.
func (s *Session) Boxes() []geom.Box {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]geom.Box, len(s.boxes))
	copy(out, s.boxes)
	return out
}

// SetImage installs the session's captured signature stamp, replacing any
// prior one.
func (s *Session) SetImage(img *signature.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.image = img
}

// Image returns the session's stamp, or nil if none was captured yet.
func (s *Session) Image() *signature.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image
}

// EnsureDefaultBox creates exactly one starter box when the layout is empty,
// so the signer always has something to position. 10% margin from the page's
// top-left corner, fixed initial pixel size converted against the canvas.
func (s *Session) EnsureDefaultBox(canvas geom.Canvas, page int) (geom.Box, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.boxes) > 0 {
		return geom.Box{}, false
	}
	if canvas.Width <= 0 || canvas.Height <= 0 {
		return geom.Box{}, false
	}

	box := geom.Box{
		ID:   util.NewID("box"),
		Page: page,
		X:    defaultMargin,
		Y:    defaultMargin,
		W:    defaultBoxWidthPx / canvas.Width,
		H:    defaultBoxHeightPx / canvas.Height,
	}
	box = box.ClampToPage()
	s.boxes = append(s.boxes, box)
	return box, true
}

// AddBox places a new box from a pixel rectangle on the rendered page.
func (s *Session) AddBox(canvas geom.Canvas, page int, rect geom.PixelRect) (geom.Box, error) {
	if page < 1 || (s.PageCount > 0 && page > s.PageCount) {
		return geom.Box{}, fmt.Errorf("placement: page %d out of range", page)
	}
	box, err := geom.FromScreen(canvas, rect)
	if err != nil {
		return geom.Box{}, err
	}
	box.ID = util.NewID("box")
	box.Page = page
	if err := box.Validate(s.PageCount); err != nil {
		return geom.Box{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.boxes = append(s.boxes, box)
	return box, nil
}

// RemoveBox deletes a box by ID. Deleting the dragged box also clears the
// pointer state.
func (s *Session) RemoveBox(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, box := range s.boxes {
		if box.ID == id {
			s.boxes = append(s.boxes[:i], s.boxes[i+1:]...)
			if s.pointer.boxID == id {
				s.pointer = pointerState{}
			}
			return true
		}
	}
	return false
}

// ReadyToSign reports whether the session can commit: a captured stamp and at
// least one valid box. Invalid boxes are reported individually so the signer
// can fix or drop just those.
func (s *Session) ReadyToSign() (bool, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var problems []error
	if s.image == nil {
		problems = append(problems, fmt.Errorf("placement: no signature captured"))
	}
	valid := 0
	for _, box := range s.boxes {
		if err := box.Validate(s.PageCount); err != nil {
			problems = append(problems, err)
			continue
		}
		valid++
	}
	if valid == 0 {
		problems = append(problems, fmt.Errorf("placement: no valid signature box placed"))
	}
	return s.image != nil && valid > 0, problems
}

// ValidBoxes returns the boxes that pass validation, in placement order.
func (s *Session) ValidBoxes() []geom.Box {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []geom.Box
	for _, box := range s.boxes {
		if box.Validate(s.PageCount) == nil {
			out = append(out, box)
		}
	}
	return out
}

// Relayout converts the stored fractions to pixel rectangles for the given
// canvas. Overlay positions are always recomputed from the normalized boxes,
// never the reverse, so repeated viewport resizes cannot drift.
func (s *Session) Relayout(canvas geom.Canvas, page int) map[string]geom.PixelRect {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]geom.PixelRect)
	for _, box := range s.boxes {
		if box.Page != page {
			continue
		}
		out[box.ID] = geom.ToScreen(canvas, box)
	}
	return out
}

func (s *Session) findBox(id string) (int, bool) {
	for i, box := range s.boxes {
		if box.ID == id {
			return i, true
		}
	}
	return -1, false
}
