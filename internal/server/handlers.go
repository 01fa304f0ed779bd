package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/taleweave/internal/budget"
	"github.com/hyperjump/taleweave/internal/extraction"
	"github.com/hyperjump/taleweave/internal/models"
)

// documentView is a document with its aggregation records.
type documentView struct {
	*models.Document
	Characters []*models.CharacterRecord `json:"characters"`
	Digests    []*models.SceneDigest     `json:"digests"`
}

func (s *Server) handleRegisterDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("register document request", zap.String("owner_id", input.OwnerID), zap.String("title", input.Title))
	doc, err := s.svc.Ingester.Register(r.Context(), &input)
	if err != nil {
		s.fail(w, "register document", err)
		return
	}
	s.svc.Ingester.Start(r.Context(), doc.ID)
	s.respondJSON(w, http.StatusAccepted, doc)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	chars, err := s.svc.Storage.ListCharacters(ctx, doc.ID)
	if err != nil {
		s.fail(w, "list characters", err)
		return
	}
	digests, err := s.svc.Storage.ListSceneDigests(ctx, doc.ID)
	if err != nil {
		s.fail(w, "list digests", err)
		return
	}
	s.respondJSON(w, http.StatusOK, documentView{Document: doc, Characters: chars, Digests: digests})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	s.logger.Debug("delete document request", zap.String("document_id", doc.ID))
	if err := s.svc.Ingester.Delete(r.Context(), doc.ID); err != nil {
		s.fail(w, "delete document", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": doc.ID, "status": "deleted"})
}

func (s *Server) handleEnqueueLabeling(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	job, err := s.svc.Labeler.Enqueue(r.Context(), doc.ID)
	if err != nil {
		s.fail(w, "enqueue labeling", err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Aggregator.Aggregate(r.Context(), doc.ID, doc.OwnerID)
	if err != nil {
		s.fail(w, "aggregate", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.ownedDocument(w, r)
	if !ok {
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	window, err := s.svc.Resolver.ResolveFocusWindow(r.Context(), doc.OwnerID, []string{doc.ID}, q)
	if err != nil {
		s.fail(w, "resolve focus window", err)
		return
	}
	// A nil window is a valid answer: no scene matched.
	s.respondJSON(w, http.StatusOK, map[string]any{"window": window})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req extraction.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("analyze request",
		zap.String("owner_id", req.OwnerID),
		zap.Strings("document_ids", req.DocumentIDs),
		zap.String("entity", req.EntityName))
	res, err := s.svc.Analyzer.Analyze(r.Context(), req)
	if err != nil {
		s.fail(w, "analyze", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

type bypassRequest struct {
	Disabled *bool `json:"disabled"`
}

func (s *Server) handleBudgetBypass(w http.ResponseWriter, r *http.Request) {
	var req bypassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Disabled == nil {
		s.respondError(w, http.StatusBadRequest, "body must be {\"disabled\": true|false}")
		return
	}
	if err := s.svc.Budget.SetGlobalLimitDisabled(r.Context(), *req.Disabled); err != nil {
		s.fail(w, "set budget bypass", err)
		return
	}
	s.logger.Warn("budget bypass changed", zap.Bool("disabled", *req.Disabled))
	s.respondJSON(w, http.StatusOK, map[string]bool{"disabled": s.svc.Budget.IsGlobalLimitDisabled(r.Context())})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.svc.Storage != nil {
		n, err := s.svc.Storage.CountDocuments(r.Context())
		if err != nil {
			s.logger.Error("health: count documents failed", zap.Error(err))
			s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		resp["documents"] = n
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// ownedDocument loads the {id} document for the owner query parameter. A
// document of another owner is reported as not found.
func (s *Server) ownedDocument(w http.ResponseWriter, r *http.Request) (*models.Document, bool) {
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		s.respondError(w, http.StatusBadRequest, "owner is required")
		return nil, false
	}
	doc, err := s.svc.Storage.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err == nil && doc.OwnerID != owner {
		err = models.ErrNotFound
	}
	if err != nil {
		s.fail(w, "get document", err)
		return nil, false
	}
	return doc, true
}

// fail maps err onto a status code and writes it.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	var quota *budget.QuotaError
	switch {
	case errors.Is(err, models.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrUnsupportedEntityType), errors.Is(err, models.ErrMissingScope):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &quota), errors.Is(err, budget.ErrDenied):
		s.respondError(w, http.StatusTooManyRequests, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
