package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"signoff/api/internal/artifact"
	"signoff/api/internal/auth"
	"signoff/api/internal/config"
	"signoff/api/internal/embed"
	"signoff/api/internal/geom"
	"signoff/api/internal/placement"
	"signoff/api/internal/redaction"
	"signoff/api/internal/session"
	"signoff/api/internal/signature"
	"signoff/api/internal/store"
	"signoff/api/internal/util"
	"signoff/api/internal/workflow"
)

// Session identifies the authenticated actor for one request.
type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	Position  string
	ExpiresAt time.Time
}

// Upload surface for image uploads; freehand captures send their own size.
const (
	uploadSurfaceWidth  = 600
	uploadSurfaceHeight = 240
)

const maxWorkflowSteps = 10

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	CreateDocument(context.Context, store.Document, []store.NewDocumentStep) error
	GetDocument(context.Context, string) (store.Document, error)
	ListDocuments(context.Context) ([]store.Document, error)
	GetStepsByDocument(context.Context, string) ([]store.Step, error)
	SignStep(context.Context, store.SignStepParams) (store.SignStepResult, error)
	RejectStep(context.Context, store.RejectStepParams) error
	ListAuditEvents(context.Context, string, int) ([]store.AuditEvent, error)
	Ping(ctx context.Context) error
}

type notifier interface {
	IsConfigured() bool
	StepPending(to, assigneeName, docTitle, stepName string) error
	DocumentApproved(to, submitterName, docTitle string) error
	DocumentRejected(to, submitterName, docTitle, stepName, reason string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	artifacts artifact.Store
	sessions  session.Store
	tokens    *auth.Service
	notify    notifier
}

func New(cfg config.Config, dataStore *store.PostgresStore, artifacts artifact.Store, sessions session.Store, tokens *auth.Service, notify notifier) *Service {
	return &Service{
		cfg:       cfg,
		store:     dataStore,
		artifacts: artifacts,
		sessions:  sessions,
		tokens:    tokens,
		notify:    notify,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Login is the development name-based login: the user is created on first
// use and handed an access token.
func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, validationError("name is required", nil)
	}

	user, err := s.store.EnsureUserByName(ctx, name)
	if err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}

	token, expiresAt, err := s.tokens.IssueAccessToken(auth.Identity{
		UserID:      user.ID,
		DisplayName: user.DisplayName,
		Role:        user.Role,
		Position:    user.Position,
	})
	if err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		Position:  user.Position,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	id, err := s.tokens.VerifyAccessToken(token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:    token,
		UserID:   id.UserID,
		UserName: id.DisplayName,
		Role:     id.Role,
		Position: id.Position,
	}, nil
}

// ---- documents ----

type SubmitStepInput struct {
	Name         string `json:"name"`
	AssigneeName string `json:"assigneeName"`
}

type SubmitDocumentInput struct {
	Title   string            `json:"title"`
	DocType string            `json:"docType"`
	PDF     []byte            `json:"pdf"`
	Steps   []SubmitStepInput `json:"steps"`
}

type DocumentView struct {
	Document store.Document
	Steps    []store.Step
}

// SubmitDocument validates the upload, stores the first artifact generation,
// and creates the document with its fixed step sequence.
func (s *Service) SubmitDocument(ctx context.Context, sess Session, input SubmitDocumentInput) (DocumentView, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return DocumentView{}, validationError("title is required", nil)
	}
	docType := workflow.DocType(input.DocType)
	if !docType.IsValid() {
		return DocumentView{}, validationError(fmt.Sprintf("unknown document type %q", input.DocType), nil)
	}
	if len(input.Steps) == 0 {
		return DocumentView{}, validationError("at least one approval step is required", nil)
	}
	if len(input.Steps) > maxWorkflowSteps {
		return DocumentView{}, validationError(fmt.Sprintf("at most %d approval steps allowed", maxWorkflowSteps), nil)
	}
	if len(input.PDF) == 0 {
		return DocumentView{}, validationError("pdf file is required", nil)
	}

	pageCount, err := embed.PageCount(input.PDF)
	if err != nil {
		return DocumentView{}, validationError("file is not a readable PDF", nil)
	}
	if pageCount == 0 {
		return DocumentView{}, validationError("pdf has no pages", nil)
	}

	steps := make([]store.NewDocumentStep, 0, len(input.Steps))
	for i, in := range input.Steps {
		name := strings.TrimSpace(in.Name)
		assigneeName := strings.TrimSpace(in.AssigneeName)
		if name == "" || assigneeName == "" {
			return DocumentView{}, validationError(fmt.Sprintf("step %d needs a name and an assignee", i+1), nil)
		}
		assignee, err := s.store.EnsureUserByName(ctx, assigneeName)
		if err != nil {
			return DocumentView{}, fmt.Errorf("resolve assignee %q: %w", assigneeName, err)
		}
		steps = append(steps, store.NewDocumentStep{Name: name, AssigneeID: assignee.ID})
	}

	docID := util.NewID("doc")
	fileKey := artifactKey(docID, 1)
	if err := s.artifacts.Put(ctx, fileKey, input.PDF); err != nil {
		return DocumentView{}, artifactError("storing the document failed")
	}

	doc := store.Document{
		ID:          docID,
		Title:       title,
		DocType:     docType,
		FileKey:     fileKey,
		PageCount:   pageCount,
		SubmittedBy: sess.UserID,
	}
	if err := s.store.CreateDocument(ctx, doc, steps); err != nil {
		return DocumentView{}, fmt.Errorf("create document: %w", err)
	}
	return s.GetDocument(ctx, docID)
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (DocumentView, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	steps, err := s.store.GetStepsByDocument(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	return DocumentView{Document: doc, Steps: steps}, nil
}

func (s *Service) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return s.store.ListDocuments(ctx)
}

// DocumentFile returns the current artifact generation's bytes.
func (s *Service) DocumentFile(ctx context.Context, documentID string) ([]byte, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	data, err := s.artifacts.Get(ctx, doc.FileKey)
	if err != nil {
		return nil, artifactError("document artifact is unavailable")
	}
	return data, nil
}

// Redactions projects every completed step's committed signature geometry
// onto the caller's canvas as read-only labels. A positive page limits the
// result to that page.
func (s *Service) Redactions(ctx context.Context, documentID string, canvas geom.Canvas, page int) ([]redaction.Label, error) {
	steps, err := s.store.GetStepsByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	var labels []redaction.Label
	if page > 0 {
		labels, err = redaction.PageLabels(steps, canvas, page)
	} else {
		labels, err = redaction.LabelsFor(steps, canvas)
	}
	if err != nil {
		return nil, fmt.Errorf("redactions for %s: %w", documentID, err)
	}
	return labels, nil
}

func (s *Service) AuditTrail(ctx context.Context, documentID string, limit int) ([]store.AuditEvent, error) {
	return s.store.ListAuditEvents(ctx, documentID, limit)
}

// ---- signing sessions ----

type SessionView struct {
	ID           string     `json:"id"`
	DocumentID   string     `json:"documentId"`
	StepID       string     `json:"stepId"`
	PageCount    int        `json:"pageCount"`
	Boxes        []geom.Box `json:"boxes"`
	HasSignature bool       `json:"hasSignature"`
	Ready        bool       `json:"ready"`
	Problems     []string   `json:"problems,omitempty"`
}

func sessionView(ps *placement.Session) SessionView {
	ready, problems := ps.ReadyToSign()
	view := SessionView{
		ID:           ps.ID,
		DocumentID:   ps.DocumentID,
		StepID:       ps.StepID,
		PageCount:    ps.PageCount,
		Boxes:        ps.Boxes(),
		HasSignature: ps.Image() != nil,
		Ready:        ready,
	}
	if !ready {
		for _, p := range problems {
			view.Problems = append(view.Problems, p.Error())
		}
	}
	return view
}

// StartSigningSession opens a placement session for the actor's pending
// step. The sign preconditions are checked up front so a signer who is not
// up yet finds out before drawing anything.
func (s *Service) StartSigningSession(ctx context.Context, sess Session, documentID, stepID string, canvas geom.Canvas, page int) (SessionView, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return SessionView{}, err
	}
	steps, err := s.store.GetStepsByDocument(ctx, documentID)
	if err != nil {
		return SessionView{}, err
	}
	if _, err := workflow.ValidateSign(toWorkflowSteps(steps), stepID, sess.UserID); err != nil {
		return SessionView{}, err
	}

	ps := placement.NewSession(documentID, stepID, sess.UserID, doc.PageCount)
	if page < 1 {
		page = 1
	}
	ps.EnsureDefaultBox(canvas, page)

	if err := s.saveSession(ctx, ps); err != nil {
		return SessionView{}, err
	}
	return sessionView(ps), nil
}

func (s *Service) SigningSession(ctx context.Context, sess Session, sessionID string) (SessionView, error) {
	ps, err := s.loadSession(ctx, sess, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	return sessionView(ps), nil
}

func (s *Service) AbandonSigningSession(ctx context.Context, sess Session, sessionID string) error {
	if _, err := s.loadSession(ctx, sess, sessionID); err != nil {
		return err
	}
	return s.sessions.Delete(ctx, sessionID)
}

// CaptureFreehand renders the sampled strokes onto a fresh surface and
// installs the finalized stamp.
func (s *Service) CaptureFreehand(ctx context.Context, sess Session, sessionID string, width, height int, strokes [][]signature.StrokePoint) (SessionView, error) {
	ps, err := s.loadSession(ctx, sess, sessionID)
	if err != nil {
		return SessionView{}, err
	}

	canvas, err := signature.NewCanvas(width, height)
	if err != nil {
		return SessionView{}, validationError(err.Error(), nil)
	}
	for _, stroke := range strokes {
		canvas.Stroke(stroke)
	}
	img, err := canvas.Finalize()
	if errors.Is(err, signature.ErrEmptySignature) {
		return SessionView{}, validationError("signature is empty", nil)
	}
	if err != nil {
		return SessionView{}, err
	}

	ps.SetImage(img)
	if err := s.saveSession(ctx, ps); err != nil {
		return SessionView{}, err
	}
	return sessionView(ps), nil
}

// CaptureUpload installs an uploaded signature image as the stamp.
func (s *Service) CaptureUpload(ctx context.Context, sess Session, sessionID string, data []byte) (SessionView, error) {
	ps, err := s.loadSession(ctx, sess, sessionID)
	if err != nil {
		return SessionView{}, err
	}

	canvas, err := signature.NewCanvas(uploadSurfaceWidth, uploadSurfaceHeight)
	if err != nil {
		return SessionView{}, err
	}
	if err := canvas.LoadUpload(data); err != nil {
		return SessionView{}, validationError("uploaded file is not a usable image", nil)
	}
	img, err := canvas.Finalize()
	if errors.Is(err, signature.ErrEmptySignature) {
		return SessionView{}, validationError("uploaded image has no visible content", nil)
	}
	if err != nil {
		return SessionView{}, err
	}

	ps.SetImage(img)
	if err := s.saveSession(ctx, ps); err != nil {
		return SessionView{}, err
	}
	return sessionView(ps), nil
}

func (s *Service) ClearSignature(ctx context.Context, sess Session, sessionID string) (SessionView, error) {
	ps, err := s.loadSession(ctx, sess, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	ps.SetImage(nil)
	if err := s.saveSession(ctx, ps); err != nil {
		return SessionView{}, err
	}
	return sessionView(ps), nil
}

func (s *Service) AddBox(ctx context.Context, sess Session, sessionID string, canvas geom.Canvas, page int, rect geom.PixelRect) (SessionView, error) {
	ps, err := s.loadSession(ctx, sess, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if _, err := ps.AddBox(canvas, page, rect); err != nil {
		return SessionView{}, validationError(err.Error(), nil)
	}
	if err := s.saveSession(ctx, ps); err != nil {
		return SessionView{}, err
	}
	return sessionView(ps), nil
}

func (s *Service) RemoveBox(ctx context.Context, sess Session, sessionID, boxID string) (SessionView, error) {
	ps, err := s.loadSession(ctx, sess, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	if !ps.RemoveBox(boxID) {
		return SessionView{}, notFoundError("box not found")
	}
	if err := s.saveSession(ctx, ps); err != nil {
		return SessionView{}, err
	}
	return sessionView(ps), nil
}

// PointerInput is one synthetic pointer sample from the placement editor.
type PointerInput struct {
	Phase  string      `json:"phase"` // down, move, up
	BoxID  string      `json:"boxId,omitempty"`
	Target string      `json:"target,omitempty"` // body, resize
	Canvas geom.Canvas `json:"canvas"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
}

// Pointer feeds one event into the session's drag/resize machine.
func (s *Service) Pointer(ctx context.Context, sess Session, sessionID string, input PointerInput) (SessionView, error) {
	ps, err := s.loadSession(ctx, sess, sessionID)
	if err != nil {
		return SessionView{}, err
	}

	ev := placement.PointerEvent{X: input.X, Y: input.Y}
	switch input.Phase {
	case "down":
		var target placement.PointerTarget
		switch input.Target {
		case "body", "":
			target = placement.TargetBody
		case "resize":
			target = placement.TargetResizeHandle
		default:
			return SessionView{}, validationError(fmt.Sprintf("unknown pointer target %q", input.Target), nil)
		}
		if err := ps.PointerDown(input.Canvas, input.BoxID, target, ev); err != nil {
			return SessionView{}, validationError(err.Error(), nil)
		}
	case "move":
		ps.PointerMove(input.Canvas, ev)
	case "up":
		ps.PointerUp()
	default:
		return SessionView{}, validationError(fmt.Sprintf("unknown pointer phase %q", input.Phase), nil)
	}

	if err := s.saveSession(ctx, ps); err != nil {
		return SessionView{}, err
	}
	return sessionView(ps), nil
}

// ---- workflow transitions ----

type SignResult struct {
	DocumentStatus  workflow.DocStatus `json:"documentStatus"`
	ArtifactVersion int                `json:"artifactVersion"`
	NextStepID      string             `json:"nextStepId,omitempty"`
	SignedAt        time.Time          `json:"signedAt"`
}

// Sign commits the actor's pending step: the stamp is embedded into a new
// artifact generation first, then the workflow transition lands in one
// transaction against the artifact version the embedding ran on. If the
// transition fails, the new generation is orphaned but the previous one is
// untouched, so nothing is double-stamped and the step stays pending.
func (s *Service) Sign(ctx context.Context, sess Session, documentID, stepID, sessionID string) (SignResult, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return SignResult{}, err
	}
	steps, err := s.store.GetStepsByDocument(ctx, documentID)
	if err != nil {
		return SignResult{}, err
	}
	if _, err := workflow.ValidateSign(toWorkflowSteps(steps), stepID, sess.UserID); err != nil {
		return SignResult{}, err
	}

	ps, err := s.loadSession(ctx, sess, sessionID)
	if err != nil {
		return SignResult{}, err
	}
	if ps.DocumentID != documentID || ps.StepID != stepID {
		return SignResult{}, validationError("signing session belongs to a different step", nil)
	}
	ready, problems := ps.ReadyToSign()
	if !ready {
		details := make([]string, 0, len(problems))
		for _, p := range problems {
			details = append(details, p.Error())
		}
		return SignResult{}, validationError("signing session is not ready", details)
	}

	src, err := s.artifacts.Get(ctx, doc.FileKey)
	if err != nil {
		return SignResult{}, artifactError("document artifact is unavailable")
	}
	stamped, err := embed.Stamp(src, ps.Image().Raster(), ps.ValidBoxes())
	if err != nil {
		return SignResult{}, artifactError("embedding the signature failed")
	}

	// The key carries a random suffix so a stale concurrent signer writes
	// its own object instead of clobbering the one the version check already
	// committed. Losing attempts orphan their object and nothing else.
	newKey := signedArtifactKey(documentID, doc.ArtifactVersion+1)
	if err := s.artifacts.Put(ctx, newKey, stamped); err != nil {
		return SignResult{}, artifactError("storing the signed artifact failed")
	}

	sigMap, err := geom.EncodeSignatureMap(ps.ValidBoxes())
	if err != nil {
		return SignResult{}, err
	}

	result, err := s.store.SignStep(ctx, store.SignStepParams{
		DocumentID:              documentID,
		StepID:                  stepID,
		ActorID:                 sess.UserID,
		ExpectedArtifactVersion: doc.ArtifactVersion,
		NewFileKey:              newKey,
		SignatureMap:            sigMap,
	})
	if err != nil {
		return SignResult{}, err
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		log.Printf(`{"event":"session_delete_failed","session_id":%q,"error":%q}`, sessionID, err.Error())
	}

	s.notifyAfterSign(doc, steps, result)

	return SignResult{
		DocumentStatus:  result.DocumentStatus,
		ArtifactVersion: result.ArtifactVersion,
		NextStepID:      result.NextStepID,
		SignedAt:        result.SignedAt,
	}, nil
}

// Reject halts the sequence with a reason. No artifact is written.
func (s *Service) Reject(ctx context.Context, sess Session, documentID, stepID, reason string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	steps, err := s.store.GetStepsByDocument(ctx, documentID)
	if err != nil {
		return err
	}
	step, err := workflow.ValidateReject(toWorkflowSteps(steps), stepID, sess.UserID, reason)
	if err != nil {
		return err
	}

	if err := s.store.RejectStep(ctx, store.RejectStepParams{
		DocumentID: documentID,
		StepID:     stepID,
		ActorID:    sess.UserID,
		Reason:     strings.TrimSpace(reason),
	}); err != nil {
		return err
	}

	s.notifyAsync(func(ctx context.Context) error {
		submitter, err := s.store.GetUserByID(ctx, doc.SubmittedBy)
		if err != nil {
			return err
		}
		return s.notify.DocumentRejected(submitter.Email, submitter.DisplayName, doc.Title, step.Name, strings.TrimSpace(reason))
	})
	return nil
}

func (s *Service) notifyAfterSign(doc store.Document, steps []store.Step, result store.SignStepResult) {
	switch {
	case result.NextAssigneeID != "":
		var nextName string
		for _, step := range steps {
			if step.ID == result.NextStepID {
				nextName = step.Name
			}
		}
		s.notifyAsync(func(ctx context.Context) error {
			next, err := s.store.GetUserByID(ctx, result.NextAssigneeID)
			if err != nil {
				return err
			}
			return s.notify.StepPending(next.Email, next.DisplayName, doc.Title, nextName)
		})
	case result.DocumentStatus == workflow.DocApproved:
		s.notifyAsync(func(ctx context.Context) error {
			submitter, err := s.store.GetUserByID(ctx, doc.SubmittedBy)
			if err != nil {
				return err
			}
			return s.notify.DocumentApproved(submitter.Email, submitter.DisplayName, doc.Title)
		})
	}
}

// notifyAsync runs a notification in the background. Failures are logged and
// never surface to the workflow transition.
func (s *Service) notifyAsync(send func(context.Context) error) {
	if s.notify == nil || !s.notify.IsConfigured() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := send(ctx); err != nil {
			log.Printf(`{"event":"notify_failed","error":%q}`, err.Error())
		}
	}()
}

func (s *Service) loadSession(ctx context.Context, sess Session, sessionID string) (*placement.Session, error) {
	state, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, notFoundError("signing session not found or expired")
		}
		return nil, err
	}
	if state.ActorID != sess.UserID {
		return nil, forbiddenError("signing session belongs to another user")
	}
	ps, err := placement.Restore(state)
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", sessionID, err)
	}
	return ps, nil
}

func (s *Service) saveSession(ctx context.Context, ps *placement.Session) error {
	state, err := ps.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot session %s: %w", ps.ID, err)
	}
	return s.sessions.Save(ctx, state, s.cfg.SessionTTL)
}

func toWorkflowSteps(steps []store.Step) []workflow.Step {
	out := make([]workflow.Step, len(steps))
	for i, step := range steps {
		out[i] = workflow.Step{
			ID:         step.ID,
			Order:      step.Order,
			Name:       step.Name,
			AssigneeID: step.AssigneeID,
			Status:     step.Status,
			Note:       step.Note,
			SignedAt:   step.SignedAt,
		}
	}
	return out
}

func artifactKey(documentID string, version int) string {
	return fmt.Sprintf("%s/v%d.pdf", documentID, version)
}

func signedArtifactKey(documentID string, version int) string {
	return fmt.Sprintf("%s/v%d-%s.pdf", documentID, version, util.NewID(""))
}
