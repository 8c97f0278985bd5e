// Package redaction produces the read-only labels layered over signatures
// that are already burned into the artifact. Labels are informational chrome
// for viewers: never interactive, never re-embedded.
package redaction

import (
	"fmt"
	"time"

	"signoff/api/internal/geom"
	"signoff/api/internal/store"
	"signoff/api/internal/workflow"
)

// Label is one overlay placed where a completed step's signature sits. Rect
// is in screen pixels on the caller's current canvas; the same normalized
// geometry re-projects correctly at any zoom.
type Label struct {
	StepID    string         `json:"step_id"`
	StepName  string         `json:"step_name"`
	ActorName string         `json:"actor_name"`
	Position  string         `json:"position"`
	SignedAt  string         `json:"signed_at"`
	Page      int            `json:"page"`
	Rect      geom.PixelRect `json:"rect"`
}

// LabelsFor projects every completed step's signature map onto the canvas.
// Steps that never completed contribute nothing; a completed step with an
// unreadable signature map is reported as an error rather than silently
// dropped, since its stamp is already in the artifact.
func LabelsFor(steps []store.Step, canvas geom.Canvas) ([]Label, error) {
	var labels []Label
	for _, step := range steps {
		if step.Status != workflow.StepCompleted {
			continue
		}
		if len(step.SignatureMap) == 0 {
			continue
		}
		boxes, err := geom.ParseSignatureMap(step.SignatureMap)
		if err != nil {
			return nil, fmt.Errorf("redaction: step %s: %w", step.ID, err)
		}
		for _, box := range boxes {
			labels = append(labels, Label{
				StepID:    step.ID,
				StepName:  step.Name,
				ActorName: step.AssigneeName,
				Position:  step.Position,
				SignedAt:  formatSignedAt(step.SignedAt),
				Page:      box.Page,
				Rect:      geom.ToScreen(canvas, box),
			})
		}
	}
	return labels, nil
}

// PageLabels filters LabelsFor down to a single page.
func PageLabels(steps []store.Step, canvas geom.Canvas, page int) ([]Label, error) {
	all, err := LabelsFor(steps, canvas)
	if err != nil {
		return nil, err
	}
	var out []Label
	for _, label := range all {
		if label.Page == page {
			out = append(out, label)
		}
	}
	return out, nil
}

func formatSignedAt(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}
