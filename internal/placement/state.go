package placement

import (
	"time"

	"signoff/api/internal/geom"
	"signoff/api/internal/signature"
)

// State is the serializable form of a Session, stored in the signing-session
// store so a browser refresh does not lose a pending layout. An in-flight
// drag is part of the state: each pointer event arrives as its own request,
// so the grab offset has to survive the store round trip.
type State struct {
	ID         string        `json:"id"`
	DocumentID string        `json:"document_id"`
	StepID     string        `json:"step_id"`
	ActorID    string        `json:"actor_id"`
	PageCount  int           `json:"page_count"`
	Boxes      []geom.Box    `json:"boxes"`
	ImagePNG   []byte        `json:"image_png,omitempty"`
	Pointer    *PointerState `json:"pointer,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// PointerState is the stored form of an active drag or resize.
type PointerState struct {
	Mode   string  `json:"mode"` // dragging, resizing
	BoxID  string  `json:"box_id"`
	GrabDX float64 `json:"grab_dx,omitempty"`
	GrabDY float64 `json:"grab_dy,omitempty"`
}

// Snapshot captures the session for storage.
func (s *Session) Snapshot() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := State{
		ID:         s.ID,
		DocumentID: s.DocumentID,
		StepID:     s.StepID,
		ActorID:    s.ActorID,
		PageCount:  s.PageCount,
		Boxes:      append([]geom.Box(nil), s.boxes...),
		CreatedAt:  time.Now(),
	}
	if s.image != nil {
		png, err := s.image.EncodePNG()
		if err != nil {
			return State{}, err
		}
		state.ImagePNG = png
	}
	switch s.pointer.mode {
	case modeDragging:
		state.Pointer = &PointerState{
			Mode:   "dragging",
			BoxID:  s.pointer.boxID,
			GrabDX: s.pointer.grabDX,
			GrabDY: s.pointer.grabDY,
		}
	case modeResizing:
		state.Pointer = &PointerState{Mode: "resizing", BoxID: s.pointer.boxID}
	}
	return state, nil
}

// Restore rebuilds a session from a stored snapshot.
func Restore(state State) (*Session, error) {
	session := &Session{
		ID:         state.ID,
		DocumentID: state.DocumentID,
		StepID:     state.StepID,
		ActorID:    state.ActorID,
		PageCount:  state.PageCount,
		boxes:      append([]geom.Box(nil), state.Boxes...),
	}
	if len(state.ImagePNG) > 0 {
		img, err := signature.DecodePNG(state.ImagePNG)
		if err != nil {
			return nil, err
		}
		session.image = img
	}
	if state.Pointer != nil {
		switch state.Pointer.Mode {
		case "dragging":
			session.pointer = pointerState{
				mode:   modeDragging,
				boxID:  state.Pointer.BoxID,
				grabDX: state.Pointer.GrabDX,
				grabDY: state.Pointer.GrabDY,
			}
		case "resizing":
			session.pointer = pointerState{mode: modeResizing, boxID: state.Pointer.BoxID}
		}
	}
	return session, nil
}
