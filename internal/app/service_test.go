package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"seehuhn.de/go/pdf"

	"signoff/api/internal/artifact"
	"signoff/api/internal/auth"
	"signoff/api/internal/config"
	"signoff/api/internal/geom"
	"signoff/api/internal/notify"
	"signoff/api/internal/session"
	"signoff/api/internal/signature"
	"signoff/api/internal/store"
	"signoff/api/internal/workflow"
)

type fakeStore struct {
	ensureUserByNameFn func(context.Context, string) (store.User, error)
	getUserByIDFn      func(context.Context, string) (store.User, error)
	createDocumentFn   func(context.Context, store.Document, []store.NewDocumentStep) error
	getDocumentFn      func(context.Context, string) (store.Document, error)
	listDocumentsFn    func(context.Context) ([]store.Document, error)
	getStepsFn         func(context.Context, string) ([]store.Step, error)
	signStepFn         func(context.Context, store.SignStepParams) (store.SignStepResult, error)
	rejectStepFn       func(context.Context, store.RejectStepParams) error
	listAuditEventsFn  func(context.Context, string, int) ([]store.AuditEvent, error)
}

func (f *fakeStore) EnsureUserByName(ctx context.Context, name string) (store.User, error) {
	if f.ensureUserByNameFn != nil {
		return f.ensureUserByNameFn(ctx, name)
	}
	return store.User{ID: "usr-" + name, DisplayName: name, Email: name + "@local", Role: "approver"}, nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{ID: id, DisplayName: id}, nil
}

func (f *fakeStore) CreateDocument(ctx context.Context, doc store.Document, steps []store.NewDocumentStep) error {
	if f.createDocumentFn != nil {
		return f.createDocumentFn(ctx, doc, steps)
	}
	return nil
}

func (f *fakeStore) GetDocument(ctx context.Context, id string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, id)
	}
	return store.Document{}, sql.ErrNoRows
}

func (f *fakeStore) ListDocuments(ctx context.Context) ([]store.Document, error) {
	if f.listDocumentsFn != nil {
		return f.listDocumentsFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) GetStepsByDocument(ctx context.Context, id string) ([]store.Step, error) {
	if f.getStepsFn != nil {
		return f.getStepsFn(ctx, id)
	}
	return nil, nil
}

func (f *fakeStore) SignStep(ctx context.Context, p store.SignStepParams) (store.SignStepResult, error) {
	if f.signStepFn != nil {
		return f.signStepFn(ctx, p)
	}
	return store.SignStepResult{}, errors.New("signStepFn not set")
}

func (f *fakeStore) RejectStep(ctx context.Context, p store.RejectStepParams) error {
	if f.rejectStepFn != nil {
		return f.rejectStepFn(ctx, p)
	}
	return nil
}

func (f *fakeStore) ListAuditEvents(ctx context.Context, id string, limit int) ([]store.AuditEvent, error) {
	if f.listAuditEventsFn != nil {
		return f.listAuditEventsFn(ctx, id, limit)
	}
	return nil, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func newTestService(t *testing.T, fake *fakeStore) *Service {
	t.Helper()
	tokens, err := auth.NewService("test-secret-0123456789abcdef", time.Hour)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	artifacts, err := artifact.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifact.NewDirStore: %v", err)
	}
	cfg := config.Config{SessionTTL: time.Hour}
	return &Service{
		cfg:       cfg,
		store:     fake,
		artifacts: artifacts,
		sessions:  session.NewMemoryStore(),
		tokens:    tokens,
		notify:    notify.NewService(notify.Config{}),
	}
}

// onePagePDF builds a minimal single-page 612x792 document.
func onePagePDF(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := pdf.NewWriter(&buf, pdf.V1_7, nil)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	pagesRef := w.Alloc()
	contentRef := w.Alloc()
	stream, err := w.OpenStream(contentRef, pdf.Dict{})
	if err != nil {
		t.Fatalf("open content stream: %v", err)
	}
	if _, err := stream.Write([]byte("0 g\n")); err != nil {
		t.Fatalf("write content: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("close content: %v", err)
	}
	pageRef := w.Alloc()
	if err := w.Put(pageRef, pdf.Dict{
		"Type":      pdf.Name("Page"),
		"Parent":    pagesRef,
		"MediaBox":  pdf.Array{pdf.Integer(0), pdf.Integer(0), pdf.Integer(612), pdf.Integer(792)},
		"Contents":  contentRef,
		"Resources": pdf.Dict{},
	}); err != nil {
		t.Fatalf("put page: %v", err)
	}
	if err := w.Put(pagesRef, pdf.Dict{
		"Type":  pdf.Name("Pages"),
		"Kids":  pdf.Array{pageRef},
		"Count": pdf.Integer(1),
	}); err != nil {
		t.Fatalf("put pages: %v", err)
	}
	w.GetMeta().Catalog.Pages = pagesRef

	if err := w.Close(); err != nil {
		t.Fatalf("write pdf: %v", err)
	}
	return buf.Bytes()
}

func twoStepDocument(docID string) (store.Document, []store.Step) {
	doc := store.Document{
		ID:               docID,
		Title:            "Budget Proposal",
		DocType:          workflow.TypeProposal,
		Status:           workflow.DocSubmitted,
		CurrentStepOrder: 1,
		FileKey:          docID + "/v1.pdf",
		ArtifactVersion:  1,
		PageCount:        1,
		SubmittedBy:      "usr-robin",
	}
	steps := []store.Step{
		{ID: "st-1", DocumentID: docID, Order: 1, Name: "Advisor review", AssigneeID: "usr-u1", Status: workflow.StepPending},
		{ID: "st-2", DocumentID: docID, Order: 2, Name: "Dean approval", AssigneeID: "usr-u2", Status: workflow.StepQueued},
	}
	return doc, steps
}

var testCanvas = geom.Canvas{Left: 0, Top: 0, Width: 800, Height: 1035}

func scribble() [][]signature.StrokePoint {
	return [][]signature.StrokePoint{{
		{X: 40, Y: 60, T: 0},
		{X: 120, Y: 80, T: 30},
		{X: 200, Y: 55, T: 60},
		{X: 280, Y: 75, T: 95},
	}}
}

func TestLoginAndSessionRoundTrip(t *testing.T) {
	svc := newTestService(t, &fakeStore{})
	ctx := context.Background()

	sess, err := svc.Login(ctx, "Dana Reed")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.Token == "" || sess.UserID != "usr-Dana Reed" {
		t.Errorf("session %+v", sess)
	}

	restored, err := svc.SessionFromToken(ctx, sess.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if restored.UserID != sess.UserID || restored.UserName != "Dana Reed" {
		t.Errorf("restored %+v", restored)
	}

	if _, err := svc.Login(ctx, "   "); err == nil {
		t.Error("blank name accepted")
	}
}

func TestSubmitDocumentValidation(t *testing.T) {
	svc := newTestService(t, &fakeStore{})
	ctx := context.Background()
	actor := Session{UserID: "usr-robin"}
	goodSteps := []SubmitStepInput{{Name: "Advisor review", AssigneeName: "U1"}}
	pdfBytes := onePagePDF(t)

	cases := []struct {
		name  string
		input SubmitDocumentInput
	}{
		{"no title", SubmitDocumentInput{DocType: "proposal", PDF: pdfBytes, Steps: goodSteps}},
		{"bad type", SubmitDocumentInput{Title: "T", DocType: "memo", PDF: pdfBytes, Steps: goodSteps}},
		{"no steps", SubmitDocumentInput{Title: "T", DocType: "proposal", PDF: pdfBytes}},
		{"no pdf", SubmitDocumentInput{Title: "T", DocType: "proposal", Steps: goodSteps}},
		{"garbage pdf", SubmitDocumentInput{Title: "T", DocType: "proposal", PDF: []byte("nope"), Steps: goodSteps}},
		{"blank step", SubmitDocumentInput{Title: "T", DocType: "proposal", PDF: pdfBytes, Steps: []SubmitStepInput{{Name: " ", AssigneeName: "U1"}}}},
	}
	for _, tc := range cases {
		_, err := svc.SubmitDocument(ctx, actor, tc.input)
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
			t.Errorf("%s: got %v, want VALIDATION_ERROR", tc.name, err)
		}
	}
}

func TestSubmitDocumentStoresArtifactAndSequence(t *testing.T) {
	var created store.Document
	var createdSteps []store.NewDocumentStep
	fake := &fakeStore{
		createDocumentFn: func(_ context.Context, doc store.Document, steps []store.NewDocumentStep) error {
			created = doc
			createdSteps = steps
			return nil
		},
	}
	fake.getDocumentFn = func(_ context.Context, id string) (store.Document, error) {
		return created, nil
	}
	svc := newTestService(t, fake)

	pdfBytes := onePagePDF(t)
	view, err := svc.SubmitDocument(context.Background(), Session{UserID: "usr-robin"}, SubmitDocumentInput{
		Title:   "Budget Proposal",
		DocType: "proposal",
		PDF:     pdfBytes,
		Steps: []SubmitStepInput{
			{Name: "Advisor review", AssigneeName: "U1"},
			{Name: "Dean approval", AssigneeName: "U2"},
		},
	})
	if err != nil {
		t.Fatalf("SubmitDocument: %v", err)
	}

	if created.PageCount != 1 || created.SubmittedBy != "usr-robin" {
		t.Errorf("created document %+v", created)
	}
	if len(createdSteps) != 2 || createdSteps[0].AssigneeID != "usr-U1" {
		t.Errorf("created steps %+v", createdSteps)
	}

	stored, err := svc.artifacts.Get(context.Background(), created.FileKey)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if !bytes.Equal(stored, pdfBytes) {
		t.Error("stored artifact differs from upload")
	}
	if view.Document.ID != created.ID {
		t.Errorf("view document %s", view.Document.ID)
	}
}

func TestStartSigningSessionChecksPreconditions(t *testing.T) {
	doc, steps := twoStepDocument("doc-1")
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return doc, nil },
		getStepsFn:    func(context.Context, string) ([]store.Step, error) { return steps, nil },
	}
	svc := newTestService(t, fake)
	ctx := context.Background()

	// The queued step's assignee cannot open a session yet.
	if _, err := svc.StartSigningSession(ctx, Session{UserID: "usr-u2"}, "doc-1", "st-2", testCanvas, 1); !errors.Is(err, workflow.ErrNotPending) {
		t.Errorf("queued step: got %v", err)
	}
	// A stranger cannot open the pending step.
	if _, err := svc.StartSigningSession(ctx, Session{UserID: "usr-x"}, "doc-1", "st-1", testCanvas, 1); !errors.Is(err, workflow.ErrNotAssignee) {
		t.Errorf("stranger: got %v", err)
	}

	view, err := svc.StartSigningSession(ctx, Session{UserID: "usr-u1"}, "doc-1", "st-1", testCanvas, 1)
	if err != nil {
		t.Fatalf("StartSigningSession: %v", err)
	}
	if len(view.Boxes) != 1 {
		t.Errorf("default box not created: %+v", view.Boxes)
	}
	if view.Ready {
		t.Error("session ready without a signature")
	}
}

func TestSessionIsolationBetweenActors(t *testing.T) {
	doc, steps := twoStepDocument("doc-1")
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return doc, nil },
		getStepsFn:    func(context.Context, string) ([]store.Step, error) { return steps, nil },
	}
	svc := newTestService(t, fake)
	ctx := context.Background()

	view, err := svc.StartSigningSession(ctx, Session{UserID: "usr-u1"}, "doc-1", "st-1", testCanvas, 1)
	if err != nil {
		t.Fatalf("StartSigningSession: %v", err)
	}

	_, err = svc.SigningSession(ctx, Session{UserID: "usr-u2"}, view.ID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "FORBIDDEN" {
		t.Errorf("foreign session access: got %v", err)
	}
}

func TestCaptureFreehandMakesSessionReady(t *testing.T) {
	doc, steps := twoStepDocument("doc-1")
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return doc, nil },
		getStepsFn:    func(context.Context, string) ([]store.Step, error) { return steps, nil },
	}
	svc := newTestService(t, fake)
	ctx := context.Background()
	actor := Session{UserID: "usr-u1"}

	view, err := svc.StartSigningSession(ctx, actor, "doc-1", "st-1", testCanvas, 1)
	if err != nil {
		t.Fatalf("StartSigningSession: %v", err)
	}

	// Empty strokes are rejected.
	if _, err := svc.CaptureFreehand(ctx, actor, view.ID, 400, 160, nil); err == nil {
		t.Error("empty capture accepted")
	}

	view, err = svc.CaptureFreehand(ctx, actor, view.ID, 400, 160, scribble())
	if err != nil {
		t.Fatalf("CaptureFreehand: %v", err)
	}
	if !view.HasSignature || !view.Ready {
		t.Errorf("session after capture: %+v", view)
	}

	// Clearing drops readiness again.
	view, err = svc.ClearSignature(ctx, actor, view.ID)
	if err != nil {
		t.Fatalf("ClearSignature: %v", err)
	}
	if view.HasSignature || view.Ready {
		t.Errorf("session after clear: %+v", view)
	}
}

func TestSignHappyPathTwoSteps(t *testing.T) {
	doc, steps := twoStepDocument("doc-1")
	var signParams store.SignStepParams
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return doc, nil },
		getStepsFn:    func(context.Context, string) ([]store.Step, error) { return steps, nil },
		signStepFn: func(_ context.Context, p store.SignStepParams) (store.SignStepResult, error) {
			signParams = p
			return store.SignStepResult{
				DocumentStatus:  workflow.DocInReview,
				NextStepID:      "st-2",
				NextAssigneeID:  "usr-u2",
				ArtifactVersion: 2,
				SignedAt:        time.Now().UTC(),
			}, nil
		},
	}
	svc := newTestService(t, fake)
	ctx := context.Background()
	actor := Session{UserID: "usr-u1"}

	if err := svc.artifacts.Put(ctx, doc.FileKey, onePagePDF(t)); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	view, err := svc.StartSigningSession(ctx, actor, "doc-1", "st-1", testCanvas, 1)
	if err != nil {
		t.Fatalf("StartSigningSession: %v", err)
	}
	if _, err := svc.CaptureFreehand(ctx, actor, view.ID, 400, 160, scribble()); err != nil {
		t.Fatalf("CaptureFreehand: %v", err)
	}

	result, err := svc.Sign(ctx, actor, "doc-1", "st-1", view.ID)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if result.DocumentStatus != workflow.DocInReview || result.NextStepID != "st-2" {
		t.Errorf("result %+v", result)
	}

	if signParams.ExpectedArtifactVersion != 1 {
		t.Errorf("expected version %d", signParams.ExpectedArtifactVersion)
	}
	if !strings.HasPrefix(signParams.NewFileKey, "doc-1/v2-") || !strings.HasSuffix(signParams.NewFileKey, ".pdf") {
		t.Errorf("new file key %q", signParams.NewFileKey)
	}
	boxes, err := geom.ParseSignatureMap(signParams.SignatureMap)
	if err != nil || len(boxes) != 1 {
		t.Errorf("signature map: boxes=%v err=%v", boxes, err)
	}

	// The stamped generation was written before the transition committed.
	stamped, err := svc.artifacts.Get(ctx, signParams.NewFileKey)
	if err != nil {
		t.Fatalf("stamped artifact: %v", err)
	}
	if len(stamped) == 0 {
		t.Error("stamped artifact is empty")
	}

	// The session is gone after a successful sign.
	if _, err := svc.SigningSession(ctx, actor, view.ID); err == nil {
		t.Error("session survived the sign")
	}
}

func TestSignNotReady(t *testing.T) {
	doc, steps := twoStepDocument("doc-1")
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return doc, nil },
		getStepsFn:    func(context.Context, string) ([]store.Step, error) { return steps, nil },
	}
	svc := newTestService(t, fake)
	ctx := context.Background()
	actor := Session{UserID: "usr-u1"}

	view, err := svc.StartSigningSession(ctx, actor, "doc-1", "st-1", testCanvas, 1)
	if err != nil {
		t.Fatalf("StartSigningSession: %v", err)
	}

	_, err = svc.Sign(ctx, actor, "doc-1", "st-1", view.ID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Errorf("unready sign: got %v", err)
	}
}

func TestSignVersionConflictSurfaces(t *testing.T) {
	doc, steps := twoStepDocument("doc-1")
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return doc, nil },
		getStepsFn:    func(context.Context, string) ([]store.Step, error) { return steps, nil },
		signStepFn: func(context.Context, store.SignStepParams) (store.SignStepResult, error) {
			return store.SignStepResult{}, store.ErrVersionConflict
		},
	}
	svc := newTestService(t, fake)
	ctx := context.Background()
	actor := Session{UserID: "usr-u1"}

	if err := svc.artifacts.Put(ctx, doc.FileKey, onePagePDF(t)); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}
	view, _ := svc.StartSigningSession(ctx, actor, "doc-1", "st-1", testCanvas, 1)
	if _, err := svc.CaptureFreehand(ctx, actor, view.ID, 400, 160, scribble()); err != nil {
		t.Fatalf("CaptureFreehand: %v", err)
	}

	if _, err := svc.Sign(ctx, actor, "doc-1", "st-1", view.ID); !errors.Is(err, store.ErrVersionConflict) {
		t.Errorf("conflict: got %v", err)
	}
}

// Two signing sessions race on the same step: the first commits, the second
// hits the version check. The loser must not touch the object the winner's
// transition committed.
func TestSignConflictLeavesCommittedArtifactIntact(t *testing.T) {
	doc, steps := twoStepDocument("doc-1")
	signs := 0
	var keys []string
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return doc, nil },
		getStepsFn:    func(context.Context, string) ([]store.Step, error) { return steps, nil },
		signStepFn: func(_ context.Context, p store.SignStepParams) (store.SignStepResult, error) {
			signs++
			keys = append(keys, p.NewFileKey)
			if signs > 1 {
				return store.SignStepResult{}, store.ErrVersionConflict
			}
			return store.SignStepResult{
				DocumentStatus:  workflow.DocInReview,
				NextStepID:      "st-2",
				NextAssigneeID:  "usr-u2",
				ArtifactVersion: 2,
				SignedAt:        time.Now().UTC(),
			}, nil
		},
	}
	svc := newTestService(t, fake)
	ctx := context.Background()
	actor := Session{UserID: "usr-u1"}

	if err := svc.artifacts.Put(ctx, doc.FileKey, onePagePDF(t)); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	// Both tabs open their session against artifact version 1.
	first, err := svc.StartSigningSession(ctx, actor, "doc-1", "st-1", testCanvas, 1)
	if err != nil {
		t.Fatalf("first session: %v", err)
	}
	second, err := svc.StartSigningSession(ctx, actor, "doc-1", "st-1", testCanvas, 1)
	if err != nil {
		t.Fatalf("second session: %v", err)
	}
	if _, err := svc.CaptureFreehand(ctx, actor, first.ID, 400, 160, scribble()); err != nil {
		t.Fatalf("first capture: %v", err)
	}
	if _, err := svc.CaptureFreehand(ctx, actor, second.ID, 420, 150, scribble()); err != nil {
		t.Fatalf("second capture: %v", err)
	}

	if _, err := svc.Sign(ctx, actor, "doc-1", "st-1", first.ID); err != nil {
		t.Fatalf("winning sign: %v", err)
	}
	winnerKey := keys[0]
	committed, err := svc.artifacts.Get(ctx, winnerKey)
	if err != nil {
		t.Fatalf("committed artifact: %v", err)
	}

	if _, err := svc.Sign(ctx, actor, "doc-1", "st-1", second.ID); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("losing sign: got %v", err)
	}
	if keys[1] == winnerKey {
		t.Fatalf("loser reused the committed key %q", winnerKey)
	}

	after, err := svc.artifacts.Get(ctx, winnerKey)
	if err != nil {
		t.Fatalf("committed artifact after conflict: %v", err)
	}
	if !bytes.Equal(committed, after) {
		t.Error("losing sign rewrote the committed artifact")
	}
}

func TestSignOnFinishedDocument(t *testing.T) {
	doc, steps := twoStepDocument("doc-1")
	steps[0].Status = workflow.StepRejected
	doc.Status = workflow.DocRejected
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return doc, nil },
		getStepsFn:    func(context.Context, string) ([]store.Step, error) { return steps, nil },
	}
	svc := newTestService(t, fake)

	_, err := svc.Sign(context.Background(), Session{UserID: "usr-u2"}, "doc-1", "st-2", "ps-x")
	if !errors.Is(err, workflow.ErrSequenceHalted) {
		t.Errorf("finished document: got %v", err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	doc, steps := twoStepDocument("doc-1")
	rejected := false
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return doc, nil },
		getStepsFn:    func(context.Context, string) ([]store.Step, error) { return steps, nil },
		rejectStepFn: func(_ context.Context, p store.RejectStepParams) error {
			rejected = true
			if p.Reason != "missing appendix" {
				t.Errorf("reason %q", p.Reason)
			}
			return nil
		},
	}
	svc := newTestService(t, fake)
	ctx := context.Background()

	if err := svc.Reject(ctx, Session{UserID: "usr-u1"}, "doc-1", "st-1", "   "); !errors.Is(err, workflow.ErrReasonRequired) {
		t.Errorf("blank reason: got %v", err)
	}
	if rejected {
		t.Fatal("blank reason reached the store")
	}

	if err := svc.Reject(ctx, Session{UserID: "usr-u1"}, "doc-1", "st-1", " missing appendix "); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if !rejected {
		t.Error("store never saw the rejection")
	}
}

func TestPointerDragThroughService(t *testing.T) {
	doc, steps := twoStepDocument("doc-1")
	fake := &fakeStore{
		getDocumentFn: func(context.Context, string) (store.Document, error) { return doc, nil },
		getStepsFn:    func(context.Context, string) ([]store.Step, error) { return steps, nil },
	}
	svc := newTestService(t, fake)
	ctx := context.Background()
	actor := Session{UserID: "usr-u1"}

	view, err := svc.StartSigningSession(ctx, actor, "doc-1", "st-1", testCanvas, 1)
	if err != nil {
		t.Fatalf("StartSigningSession: %v", err)
	}
	box := view.Boxes[0]
	startX := testCanvas.Left + box.X*testCanvas.Width + 5
	startY := testCanvas.Top + box.Y*testCanvas.Height + 5

	if _, err := svc.Pointer(ctx, actor, view.ID, PointerInput{
		Phase: "down", BoxID: box.ID, Target: "body", Canvas: testCanvas, X: startX, Y: startY,
	}); err != nil {
		t.Fatalf("pointer down: %v", err)
	}
	if _, err := svc.Pointer(ctx, actor, view.ID, PointerInput{
		Phase: "move", Canvas: testCanvas, X: startX + 100, Y: startY + 50,
	}); err != nil {
		t.Fatalf("pointer move: %v", err)
	}
	view, err = svc.Pointer(ctx, actor, view.ID, PointerInput{Phase: "up", Canvas: testCanvas})
	if err != nil {
		t.Fatalf("pointer up: %v", err)
	}

	moved := view.Boxes[0]
	wantX := box.X + 100/testCanvas.Width
	wantY := box.Y + 50/testCanvas.Height
	if diff := moved.X - wantX; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("X = %g, want %g", moved.X, wantX)
	}
	if diff := moved.Y - wantY; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Y = %g, want %g", moved.Y, wantY)
	}
}
