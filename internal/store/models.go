package store

import (
	"encoding/json"
	"time"

	"signoff/api/internal/workflow"
)

type User struct {
	ID          string
	DisplayName string
	Email       string
	Role        string
	Position    string
	CreatedAt   time.Time
}

// Document is a submitted artifact moving through an ordered approval
// sequence. FileKey addresses the current PDF bytes in the artifact store;
// ArtifactVersion increments on every embedded generation and backs the
// optimistic concurrency check in SignStep.
type Document struct {
	ID               string
	Title            string
	DocType          workflow.DocType
	Status           workflow.DocStatus
	CurrentStepOrder int
	FileKey          string
	ArtifactVersion  int
	PageCount        int
	SubmittedBy      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Step mirrors the workflow_steps row. SignatureMap is the persisted
// geometry snapshot, written once at signing time and immutable after.
type Step struct {
	ID           string
	DocumentID   string
	Order        int
	Name         string
	AssigneeID   string
	AssigneeName string
	Position     string
	Status       workflow.StepStatus
	Note         string
	SignedAt     *time.Time
	SignatureMap json.RawMessage
}

// AuditEvent is an append-only record of a workflow action.
type AuditEvent struct {
	ID         int64
	EventType  string
	ActorID    string
	DocumentID string
	StepID     string
	Payload    json.RawMessage
	CreatedAt  time.Time
}

// NewDocumentStep describes one stage of the pre-computed sequence handed to
// CreateDocument.
type NewDocumentStep struct {
	Name       string
	AssigneeID string
}

// SignStepParams carries everything SignStep writes in one transaction.
type SignStepParams struct {
	DocumentID string
	StepID     string
	ActorID    string
	// ExpectedArtifactVersion is the version the embedding ran against; a
	// mismatch means another signer got there first.
	ExpectedArtifactVersion int
	// NewFileKey addresses the freshly embedded artifact generation.
	NewFileKey   string
	SignatureMap json.RawMessage
}

type RejectStepParams struct {
	DocumentID string
	StepID     string
	ActorID    string
	Reason     string
}

// SignStepResult reports what the transition settled on.
type SignStepResult struct {
	DocumentStatus  workflow.DocStatus
	NextStepID      string
	NextAssigneeID  string
	ArtifactVersion int
	SignedAt        time.Time
}
