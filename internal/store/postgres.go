package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signoff/api/internal/util"
	"signoff/api/internal/workflow"
)

// ErrVersionConflict means the document's artifact changed under the caller:
// the sign transition ran against a stale artifact version and must be
// retried from a fresh read.
var ErrVersionConflict = errors.New("store: document artifact changed, reload and retry")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const find = `SELECT id, display_name, email, role, position FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, find, name).
		Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.Position)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insert = `
		INSERT INTO users (id, display_name, email, role, position)
		VALUES ($1, $2, CONCAT(LOWER(REPLACE($2, ' ', '.')), '@local.signoff.dev'), 'approver', '')
		RETURNING id, display_name, email, role, position
	`
	err = s.db.QueryRowContext(ctx, insert, util.NewID("usr"), name).
		Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.Position)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, email, role, position FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.Position)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// CreateDocument inserts the document and its pre-computed step sequence in
// one transaction. The first step starts pending, the rest queued.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document, steps []NewDocumentStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("create document: step sequence is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create document: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, title, doc_type, status, current_step_order, file_key, artifact_version, page_count, submitted_by)
		VALUES ($1, $2, $3, $4, 1, $5, 1, $6, $7)
	`, doc.ID, doc.Title, string(doc.DocType), string(workflow.DocSubmitted), doc.FileKey, doc.PageCount, doc.SubmittedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for i, step := range steps {
		status := workflow.StepQueued
		if i == 0 {
			status = workflow.StepPending
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_steps (id, document_id, step_order, name, assignee_id, status)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, util.NewID("step"), doc.ID, i+1, step.Name, step.AssigneeID, string(status))
		if err != nil {
			return fmt.Errorf("insert step %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create document: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	const query = `
		SELECT id, title, doc_type, status, current_step_order, file_key, artifact_version, page_count, submitted_by, created_at, updated_at
		FROM documents WHERE id=$1
	`
	var doc Document
	var docType, status string
	err := s.db.QueryRowContext(ctx, query, documentID).Scan(
		&doc.ID, &doc.Title, &docType, &status, &doc.CurrentStepOrder,
		&doc.FileKey, &doc.ArtifactVersion, &doc.PageCount, &doc.SubmittedBy,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	doc.DocType = workflow.DocType(docType)
	doc.Status = workflow.DocStatus(status)
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	const query = `
		SELECT id, title, doc_type, status, current_step_order, file_key, artifact_version, page_count, submitted_by, created_at, updated_at
		FROM documents ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		var docType, status string
		if err := rows.Scan(
			&doc.ID, &doc.Title, &docType, &status, &doc.CurrentStepOrder,
			&doc.FileKey, &doc.ArtifactVersion, &doc.PageCount, &doc.SubmittedBy,
			&doc.CreatedAt, &doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.DocType = workflow.DocType(docType)
		doc.Status = workflow.DocStatus(status)
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) GetStepsByDocument(ctx context.Context, documentID string) ([]Step, error) {
	const query = `
		SELECT ws.id, ws.document_id, ws.step_order, ws.name, ws.assignee_id,
		       COALESCE(u.display_name, ''), COALESCE(u.position, ''),
		       ws.status, COALESCE(ws.note, ''), ws.signed_at, ws.signature_map
		FROM workflow_steps ws
		LEFT JOIN users u ON u.id = ws.assignee_id
		WHERE ws.document_id=$1
		ORDER BY ws.step_order
	`
	rows, err := s.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var step Step
		var status string
		var sigMap []byte
		if err := rows.Scan(
			&step.ID, &step.DocumentID, &step.Order, &step.Name, &step.AssigneeID,
			&step.AssigneeName, &step.Position, &status, &step.Note,
			&step.SignedAt, &sigMap,
		); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Status = workflow.StepStatus(status)
		step.SignatureMap = json.RawMessage(sigMap)
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// SignStep commits a sign transition atomically. The document row is locked
// for the duration, the artifact version is checked against the version the
// embedding ran on, and the step's pending/assignee state is re-verified
// under the lock. This is the authoritative enforcement of the one-pending-
// step ordering; client-side gating is an optimization only.
func (s *PostgresStore) SignStep(ctx context.Context, p SignStepParams) (SignStepResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SignStepResult{}, fmt.Errorf("begin sign: %w", err)
	}
	defer tx.Rollback()

	var (
		docStatus       string
		currentOrder    int
		artifactVersion int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT status, current_step_order, artifact_version
		FROM documents WHERE id=$1 FOR UPDATE
	`, p.DocumentID).Scan(&docStatus, &currentOrder, &artifactVersion)
	if err != nil {
		return SignStepResult{}, fmt.Errorf("lock document: %w", err)
	}

	if artifactVersion != p.ExpectedArtifactVersion {
		return SignStepResult{}, ErrVersionConflict
	}
	if workflow.DocStatus(docStatus).IsTerminal() {
		return SignStepResult{}, workflow.ErrSequenceHalted
	}

	var (
		stepOrder  int
		stepStatus string
		assigneeID string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT step_order, status, assignee_id
		FROM workflow_steps WHERE id=$1 AND document_id=$2 FOR UPDATE
	`, p.StepID, p.DocumentID).Scan(&stepOrder, &stepStatus, &assigneeID)
	if err != nil {
		return SignStepResult{}, fmt.Errorf("lock step: %w", err)
	}
	if workflow.StepStatus(stepStatus) != workflow.StepPending || stepOrder != currentOrder {
		return SignStepResult{}, workflow.ErrNotPending
	}
	if assigneeID != p.ActorID {
		return SignStepResult{}, workflow.ErrNotAssignee
	}

	signedAt := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE workflow_steps
		SET status=$1, signed_at=$2, signature_map=$3::jsonb
		WHERE id=$4
	`, string(workflow.StepCompleted), signedAt, string(p.SignatureMap), p.StepID)
	if err != nil {
		return SignStepResult{}, fmt.Errorf("complete step: %w", err)
	}

	result := SignStepResult{
		DocumentStatus:  workflow.DocApproved,
		ArtifactVersion: artifactVersion + 1,
		SignedAt:        signedAt,
	}
	nextOrder := currentOrder

	var nextID, nextAssignee string
	err = tx.QueryRowContext(ctx, `
		SELECT id, assignee_id FROM workflow_steps
		WHERE document_id=$1 AND status=$2 AND step_order > $3
		ORDER BY step_order LIMIT 1
	`, p.DocumentID, string(workflow.StepQueued), currentOrder).Scan(&nextID, &nextAssignee)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `
			UPDATE workflow_steps SET status=$1 WHERE id=$2
		`, string(workflow.StepPending), nextID); err != nil {
			return SignStepResult{}, fmt.Errorf("activate next step: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `
			SELECT step_order FROM workflow_steps WHERE id=$1
		`, nextID).Scan(&nextOrder); err != nil {
			return SignStepResult{}, fmt.Errorf("read next order: %w", err)
		}
		result.DocumentStatus = workflow.DocInReview
		result.NextStepID = nextID
		result.NextAssigneeID = nextAssignee
	case errors.Is(err, sql.ErrNoRows):
		// Last step completed; the document is approved.
	default:
		return SignStepResult{}, fmt.Errorf("find next step: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE documents
		SET status=$1, current_step_order=$2, file_key=$3, artifact_version=$4, updated_at=NOW()
		WHERE id=$5
	`, string(result.DocumentStatus), nextOrder, p.NewFileKey, result.ArtifactVersion, p.DocumentID)
	if err != nil {
		return SignStepResult{}, fmt.Errorf("advance document: %w", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"step_id":          p.StepID,
		"artifact_version": result.ArtifactVersion,
		"next_step_id":     result.NextStepID,
	})
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, actor_id, document_id, step_id, payload)
		VALUES ('step.signed', $1, $2, $3, $4::jsonb)
	`, p.ActorID, p.DocumentID, p.StepID, string(payload)); err != nil {
		return SignStepResult{}, fmt.Errorf("audit sign: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return SignStepResult{}, fmt.Errorf("commit sign: %w", err)
	}
	return result, nil
}

// RejectStep halts the sequence: the step and document both become rejected,
// later steps stay queued forever, and no artifact is written.
func (s *PostgresStore) RejectStep(ctx context.Context, p RejectStepParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reject: %w", err)
	}
	defer tx.Rollback()

	var (
		docStatus    string
		currentOrder int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT status, current_step_order FROM documents WHERE id=$1 FOR UPDATE
	`, p.DocumentID).Scan(&docStatus, &currentOrder)
	if err != nil {
		return fmt.Errorf("lock document: %w", err)
	}
	if workflow.DocStatus(docStatus).IsTerminal() {
		return workflow.ErrSequenceHalted
	}

	var (
		stepOrder  int
		stepStatus string
		assigneeID string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT step_order, status, assignee_id
		FROM workflow_steps WHERE id=$1 AND document_id=$2 FOR UPDATE
	`, p.StepID, p.DocumentID).Scan(&stepOrder, &stepStatus, &assigneeID)
	if err != nil {
		return fmt.Errorf("lock step: %w", err)
	}
	if workflow.StepStatus(stepStatus) != workflow.StepPending || stepOrder != currentOrder {
		return workflow.ErrNotPending
	}
	if assigneeID != p.ActorID {
		return workflow.ErrNotAssignee
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE workflow_steps SET status=$1, note=$2 WHERE id=$3
	`, string(workflow.StepRejected), p.Reason, p.StepID); err != nil {
		return fmt.Errorf("reject step: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET status=$1, updated_at=NOW() WHERE id=$2
	`, string(workflow.DocRejected), p.DocumentID); err != nil {
		return fmt.Errorf("reject document: %w", err)
	}

	payload, _ := json.Marshal(map[string]any{"step_id": p.StepID, "reason": p.Reason})
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_events (event_type, actor_id, document_id, step_id, payload)
		VALUES ('step.rejected', $1, $2, $3, $4::jsonb)
	`, p.ActorID, p.DocumentID, p.StepID, string(payload)); err != nil {
		return fmt.Errorf("audit reject: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reject: %w", err)
	}
	return nil
}

// ListAuditEvents returns a document's audit trail, newest first.
func (s *PostgresStore) ListAuditEvents(ctx context.Context, documentID string, limit int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, actor_id, document_id, COALESCE(step_id, ''), payload, created_at
		FROM audit_events WHERE document_id=$1
		ORDER BY created_at DESC LIMIT $2
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.ActorID, &ev.DocumentID, &ev.StepID, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}
