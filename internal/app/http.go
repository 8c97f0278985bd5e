package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signoff/api/internal/geom"
	"signoff/api/internal/redaction"
	"signoff/api/internal/signature"
	"signoff/api/internal/store"
	"signoff/api/internal/workflow"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		var body struct {
			Name string `json:"name"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Login(r.Context(), body.Name)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token":    session.Token,
			"userId":   session.UserID,
			"userName": session.UserName,
			"role":     session.Role,
			"position": session.Position,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        session.UserID,
			"userName":      session.UserName,
			"role":          session.Role,
			"position":      session.Position,
		})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)

	// /api/documents...
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "documents" {
		switch {
		case len(parts) == 2 && r.Method == http.MethodGet:
			s.handleListDocuments(w, r)
		case len(parts) == 2 && r.Method == http.MethodPost:
			s.handleSubmitDocument(w, r, session)
		case len(parts) == 3 && r.Method == http.MethodGet:
			s.handleGetDocument(w, r, parts[2])
		case len(parts) == 4 && parts[3] == "file" && r.Method == http.MethodGet:
			s.handleDocumentFile(w, r, parts[2])
		case len(parts) == 4 && parts[3] == "redactions" && r.Method == http.MethodGet:
			s.handleRedactions(w, r, parts[2])
		case len(parts) == 4 && parts[3] == "audit" && r.Method == http.MethodGet:
			s.handleAuditTrail(w, r, parts[2])
		case len(parts) == 6 && parts[3] == "steps" && parts[5] == "sign" && r.Method == http.MethodPost:
			s.handleSign(w, r, session, parts[2], parts[4])
		case len(parts) == 6 && parts[3] == "steps" && parts[5] == "reject" && r.Method == http.MethodPost:
			s.handleReject(w, r, session, parts[2], parts[4])
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	// /api/signing-sessions...
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "signing-sessions" {
		switch {
		case len(parts) == 2 && r.Method == http.MethodPost:
			s.handleStartSession(w, r, session)
		case len(parts) == 3 && r.Method == http.MethodGet:
			s.handleGetSession(w, r, session, parts[2])
		case len(parts) == 3 && r.Method == http.MethodDelete:
			s.handleAbandonSession(w, r, session, parts[2])
		case len(parts) == 4 && parts[3] == "signature" && r.Method == http.MethodPost:
			s.handleCapture(w, r, session, parts[2])
		case len(parts) == 4 && parts[3] == "signature" && r.Method == http.MethodDelete:
			s.handleClearSignature(w, r, session, parts[2])
		case len(parts) == 4 && parts[3] == "boxes" && r.Method == http.MethodPost:
			s.handleAddBox(w, r, session, parts[2])
		case len(parts) == 5 && parts[3] == "boxes" && r.Method == http.MethodDelete:
			s.handleRemoveBox(w, r, session, parts[2], parts[4])
		case len(parts) == 4 && parts[3] == "pointer" && r.Method == http.MethodPost:
			s.handlePointer(w, r, session, parts[2])
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// ---- document handlers ----

func (s *HTTPServer) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.service.ListDocuments(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	items := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		items = append(items, documentJSON(doc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": items})
}

func (s *HTTPServer) handleSubmitDocument(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Title   string            `json:"title"`
		DocType string            `json:"docType"`
		PDF     string            `json:"pdf"` // base64
		Steps   []SubmitStepInput `json:"steps"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	pdf, err := base64.StdEncoding.DecodeString(body.PDF)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "pdf must be base64-encoded", nil)
		return
	}

	view, err := s.service.SubmitDocument(r.Context(), session, SubmitDocumentInput{
		Title:   body.Title,
		DocType: body.DocType,
		PDF:     pdf,
		Steps:   body.Steps,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, documentViewJSON(view))
}

func (s *HTTPServer) handleGetDocument(w http.ResponseWriter, r *http.Request, documentID string) {
	view, err := s.service.GetDocument(r.Context(), documentID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, documentViewJSON(view))
}

func (s *HTTPServer) handleDocumentFile(w http.ResponseWriter, r *http.Request, documentID string) {
	data, err := s.service.DocumentFile(r.Context(), documentID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *HTTPServer) handleRedactions(w http.ResponseWriter, r *http.Request, documentID string) {
	canvas, err := canvasFromQuery(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	page := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "page must be a positive integer", nil)
			return
		}
	}
	labels, err := s.service.Redactions(r.Context(), documentID, canvas, page)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if labels == nil {
		labels = []redaction.Label{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"labels": labels})
}

func (s *HTTPServer) handleAuditTrail(w http.ResponseWriter, r *http.Request, documentID string) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	events, err := s.service.AuditTrail(r.Context(), documentID, limit)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	items := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		items = append(items, map[string]any{
			"id":        ev.ID,
			"eventType": ev.EventType,
			"actorId":   ev.ActorID,
			"stepId":    ev.StepID,
			"payload":   ev.Payload,
			"createdAt": ev.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": items})
}

func (s *HTTPServer) handleSign(w http.ResponseWriter, r *http.Request, session Session, documentID, stepID string) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.SessionID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "sessionId is required", nil)
		return
	}

	result, err := s.service.Sign(r.Context(), session, documentID, stepID, body.SessionID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"documentStatus":  result.DocumentStatus,
		"artifactVersion": result.ArtifactVersion,
		"nextStepId":      result.NextStepID,
		"signedAt":        result.SignedAt,
	})
}

func (s *HTTPServer) handleReject(w http.ResponseWriter, r *http.Request, session Session, documentID, stepID string) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if err := s.service.Reject(r.Context(), session, documentID, stepID, body.Reason); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ---- signing session handlers ----

func (s *HTTPServer) handleStartSession(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		DocumentID string      `json:"documentId"`
		StepID     string      `json:"stepId"`
		Canvas     geom.Canvas `json:"canvas"`
		Page       int         `json:"page"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.DocumentID) == "" || strings.TrimSpace(body.StepID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "documentId and stepId are required", nil)
		return
	}

	view, err := s.service.StartSigningSession(r.Context(), session, body.DocumentID, body.StepID, body.Canvas, body.Page)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *HTTPServer) handleGetSession(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	view, err := s.service.SigningSession(r.Context(), session, sessionID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleAbandonSession(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	if err := s.service.AbandonSigningSession(r.Context(), session, sessionID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCapture(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	var body struct {
		Mode    string                    `json:"mode"` // freehand, upload
		Width   int                       `json:"width"`
		Height  int                       `json:"height"`
		Strokes [][]signature.StrokePoint `json:"strokes"`
		Image   string                    `json:"image"` // base64, upload mode
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var view SessionView
	var err error
	switch body.Mode {
	case "freehand", "":
		view, err = s.service.CaptureFreehand(r.Context(), session, sessionID, body.Width, body.Height, body.Strokes)
	case "upload":
		var data []byte
		data, err = base64.StdEncoding.DecodeString(body.Image)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "image must be base64-encoded", nil)
			return
		}
		view, err = s.service.CaptureUpload(r.Context(), session, sessionID, data)
	default:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("unknown capture mode %q", body.Mode), nil)
		return
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleClearSignature(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	view, err := s.service.ClearSignature(r.Context(), session, sessionID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleAddBox(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	var body struct {
		Canvas geom.Canvas    `json:"canvas"`
		Page   int            `json:"page"`
		Rect   geom.PixelRect `json:"rect"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.AddBox(r.Context(), session, sessionID, body.Canvas, body.Page, body.Rect)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleRemoveBox(w http.ResponseWriter, r *http.Request, session Session, sessionID, boxID string) {
	view, err := s.service.RemoveBox(r.Context(), session, sessionID, boxID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handlePointer(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	var input PointerInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	view, err := s.service.Pointer(r.Context(), session, sessionID, input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ---- JSON shapes ----

func documentJSON(doc store.Document) map[string]any {
	return map[string]any{
		"id":               doc.ID,
		"title":            doc.Title,
		"docType":          doc.DocType,
		"status":           doc.Status,
		"currentStepOrder": doc.CurrentStepOrder,
		"artifactVersion":  doc.ArtifactVersion,
		"pageCount":        doc.PageCount,
		"submittedBy":      doc.SubmittedBy,
		"createdAt":        doc.CreatedAt,
		"updatedAt":        doc.UpdatedAt,
	}
}

func documentViewJSON(view DocumentView) map[string]any {
	steps := make([]map[string]any, 0, len(view.Steps))
	for _, step := range view.Steps {
		item := map[string]any{
			"id":           step.ID,
			"order":        step.Order,
			"name":         step.Name,
			"assigneeId":   step.AssigneeID,
			"assigneeName": step.AssigneeName,
			"position":     step.Position,
			"status":       step.Status,
		}
		if step.Note != "" {
			item["note"] = step.Note
		}
		if step.SignedAt != nil {
			item["signedAt"] = step.SignedAt
		}
		steps = append(steps, item)
	}
	payload := documentJSON(view.Document)
	payload["steps"] = steps
	return payload
}

func canvasFromQuery(r *http.Request) (geom.Canvas, error) {
	q := r.URL.Query()
	parse := func(key string) (float64, error) {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			return 0, nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a number", key)
		}
		return v, nil
	}

	var canvas geom.Canvas
	var err error
	if canvas.Left, err = parse("canvasLeft"); err != nil {
		return geom.Canvas{}, err
	}
	if canvas.Top, err = parse("canvasTop"); err != nil {
		return geom.Canvas{}, err
	}
	if canvas.Width, err = parse("canvasWidth"); err != nil {
		return geom.Canvas{}, err
	}
	if canvas.Height, err = parse("canvasHeight"); err != nil {
		return geom.Canvas{}, err
	}
	if canvas.Width <= 0 || canvas.Height <= 0 {
		return geom.Canvas{}, fmt.Errorf("canvasWidth and canvasHeight are required")
	}
	return canvas, nil
}

// ---- middleware and helpers ----

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(h http.Header, origin string) {
	if origin == "" {
		origin = "*"
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	switch {
	case errors.Is(err, workflow.ErrNotPending), errors.Is(err, workflow.ErrNotAssignee):
		return http.StatusForbidden, "FORBIDDEN", "Step is not actionable by this user", nil
	case errors.Is(err, workflow.ErrSequenceHalted):
		return http.StatusConflict, "CONFLICT", "Document workflow already finished", nil
	case errors.Is(err, workflow.ErrReasonRequired):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "A rejection reason is required", nil
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "CONFLICT", "Document changed while signing, reload and retry", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
