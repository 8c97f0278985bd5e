package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Step is one ordered approval stage. Order is 1-based and unique within the
// document; the sequence is immutable once created.
type Step struct {
	ID         string
	Order      int
	Name       string
	AssigneeID string
	Status     StepStatus
	Note       string
	SignedAt   *time.Time
}

var (
	// ErrNotPending is returned when the addressed step is not the single
	// currently-actionable step.
	ErrNotPending = errors.New("workflow: step is not pending")
	// ErrNotAssignee is returned when the acting user is not the step's
	// assignee.
	ErrNotAssignee = errors.New("workflow: actor is not the step assignee")
	// ErrReasonRequired is returned when a rejection carries no reason.
	ErrReasonRequired = errors.New("workflow: rejection reason is required")
	// ErrSequenceHalted is returned when the document is already in a
	// terminal state.
	ErrSequenceHalted = errors.New("workflow: document workflow already finished")
)

// DeriveDocumentStatus computes the document status from its steps:
//
//	rejected:  any step rejected (the sequence halts permanently)
//	approved:  the last step in order is completed
//	in_review: at least one step completed and a later step pending
//	submitted: no step acted upon yet
func DeriveDocumentStatus(steps []Step) DocStatus {
	if len(steps) == 0 {
		return DocSubmitted
	}
	ordered := sortedByOrder(steps)

	completed := 0
	for _, step := range ordered {
		switch step.Status {
		case StepRejected:
			return DocRejected
		case StepCompleted:
			completed++
		}
	}
	if ordered[len(ordered)-1].Status == StepCompleted {
		return DocApproved
	}
	if completed > 0 {
		return DocInReview
	}
	return DocSubmitted
}

// PendingStep returns the single pending step, if any. More than one pending
// step violates the ordering invariant and is reported as an error.
func PendingStep(steps []Step) (Step, bool, error) {
	var found *Step
	for i := range steps {
		if steps[i].Status != StepPending {
			continue
		}
		if found != nil {
			return Step{}, false, fmt.Errorf("workflow: steps %d and %d are both pending", found.Order, steps[i].Order)
		}
		found = &steps[i]
	}
	if found == nil {
		return Step{}, false, nil
	}
	return *found, true, nil
}

// NextQueued returns the first queued step after the given order.
func NextQueued(steps []Step, afterOrder int) (Step, bool) {
	ordered := sortedByOrder(steps)
	for _, step := range ordered {
		if step.Order > afterOrder && step.Status == StepQueued {
			return step, true
		}
	}
	return Step{}, false
}

// ValidateSign checks the sign preconditions: the addressed step is the
// single pending one and the actor is its assignee. The signature content
// checks (stamp present, at least one valid box) belong to the placement
// session and are validated by the caller before embedding.
func ValidateSign(steps []Step, stepID, actorID string) (Step, error) {
	return validateActionable(steps, stepID, actorID)
}

// ValidateReject checks the reject preconditions; a rejection additionally
// requires a non-empty reason.
func ValidateReject(steps []Step, stepID, actorID, reason string) (Step, error) {
	if strings.TrimSpace(reason) == "" {
		return Step{}, ErrReasonRequired
	}
	return validateActionable(steps, stepID, actorID)
}

func validateActionable(steps []Step, stepID, actorID string) (Step, error) {
	if DeriveDocumentStatus(steps).IsTerminal() {
		return Step{}, ErrSequenceHalted
	}
	pending, ok, err := PendingStep(steps)
	if err != nil {
		return Step{}, err
	}
	if !ok || pending.ID != stepID {
		return Step{}, ErrNotPending
	}
	if pending.AssigneeID != actorID {
		return Step{}, ErrNotAssignee
	}
	return pending, nil
}

func sortedByOrder(steps []Step) []Step {
	out := append([]Step(nil), steps...)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
