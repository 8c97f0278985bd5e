// Package workflow implements the approval step state machine: step
// ordering, assignee checks, transition rules, and the derivation of a
// document's status from its steps.
package workflow

// StepStatus is the lifecycle state of one approval step.
//
//	queued → pending → completed
//	               └─→ rejected
type StepStatus string

const (
	StepQueued    StepStatus = "queued"
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
	StepRejected  StepStatus = "rejected"
)

var validStepStatuses = map[StepStatus]bool{
	StepQueued:    true,
	StepPending:   true,
	StepCompleted: true,
	StepRejected:  true,
}

var terminalStepStatuses = map[StepStatus]bool{
	StepCompleted: true,
	StepRejected:  true,
}

func (s StepStatus) IsValid() bool {
	return validStepStatuses[s]
}

// IsTerminal reports whether no further transition is allowed.
func (s StepStatus) IsTerminal() bool {
	return terminalStepStatuses[s]
}

// DocStatus is the derived state of a document. It is never set directly;
// DeriveDocumentStatus computes it from the step sequence.
type DocStatus string

const (
	DocSubmitted DocStatus = "submitted"
	DocInReview  DocStatus = "in_review"
	DocApproved  DocStatus = "approved"
	DocRejected  DocStatus = "rejected"
)

func (s DocStatus) IsValid() bool {
	switch s {
	case DocSubmitted, DocInReview, DocApproved, DocRejected:
		return true
	}
	return false
}

func (s DocStatus) IsTerminal() bool {
	return s == DocApproved || s == DocRejected
}

// DocType classifies a document; the step sequence is fixed per type at
// submission and not user-editable afterwards.
type DocType string

const (
	TypeProposal      DocType = "proposal"
	TypeSAF           DocType = "saf"
	TypeFacility      DocType = "facility"
	TypeCommunication DocType = "communication"
	TypeMaterial      DocType = "material"
)

func (t DocType) IsValid() bool {
	switch t {
	case TypeProposal, TypeSAF, TypeFacility, TypeCommunication, TypeMaterial:
		return true
	}
	return false
}
