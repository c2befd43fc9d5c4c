package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/document"
)

type createDocumentRequest struct {
	Title    string            `json:"title"`
	Content  string            `json:"content"`
	Category string            `json:"category"`
	Source   string            `json:"source"`
	Score    *float64          `json:"score"`
	Status   document.Status   `json:"status"`
	Language string            `json:"language"`
	Keywords []string          `json:"keywords"`
	Metadata document.Metadata `json:"metadata"`
}

type updateDocumentRequest struct {
	Title           *string           `json:"title"`
	Content         *string           `json:"content"`
	Category        *string           `json:"category"`
	Source          *string           `json:"source"`
	Score           *float64          `json:"score"`
	Status          *document.Status  `json:"status"`
	Language        *string           `json:"language"`
	Keywords        []string          `json:"keywords"`
	Metadata        document.Metadata `json:"metadata"`
	ExpectedVersion int               `json:"expected_version"`
}

func parseStatus(raw string) (document.Status, error) {
	status := document.Status(strings.ToLower(strings.TrimSpace(raw)))
	if status != "" && !status.Valid() {
		return "", errors.New("invalid status")
	}
	return status, nil
}

func (s *Server) searchDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit, err := pageParams(r, s.cfg.PageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := parseStatus(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	opts := document.SearchOptions{
		Page:           page,
		Limit:          limit,
		Status:         status,
		HighlightStart: s.cfg.HighlightStart,
		HighlightEnd:   s.cfg.HighlightEnd,
	}
	if v := q.Get("highlight_start"); v != "" {
		opts.HighlightStart = v
	}
	if v := q.Get("highlight_end"); v != "" {
		opts.HighlightEnd = v
	}
	res, err := s.deps.Documents.Search(r.Context(), q.Get("q"), opts)
	if errors.Is(err, document.ErrInvalidHighlight) {
		writeError(w, http.StatusBadRequest, document.ErrInvalidHighlight.Error())
		return
	}
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit, err := pageParams(r, s.cfg.PageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := parseStatus(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.deps.Documents.List(r.Context(), document.ListOptions{
		Page:     page,
		Limit:    limit,
		Status:   status,
		Category: q.Get("category"),
		Source:   q.Get("source"),
		SortBy:   q.Get("sort"),
		Asc:      strings.EqualFold(q.Get("order"), "asc"),
	})
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) categories(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Documents.Categories(r.Context())
	if err != nil {
		s.logger.Error("list categories failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}

func (s *Server) documentSources(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Documents.Sources(r.Context())
	if err != nil {
		s.logger.Error("list document sources failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "title and content are required")
		return
	}
	if req.Status != "" && !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	doc, err := s.deps.Documents.Create(r.Context(), document.NewDocument{
		Title:    req.Title,
		Content:  req.Content,
		Category: req.Category,
		Source:   req.Source,
		Score:    req.Score,
		Status:   req.Status,
		Language: req.Language,
		Keywords: req.Keywords,
		Metadata: req.Metadata,
	}, userID(r))
	if err != nil {
		s.logger.Error("create document failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create document")
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, found, err := s.deps.Documents.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("get document failed", zap.String("document_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateDocumentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	doc, found, err := s.deps.Documents.Update(r.Context(), id, document.Patch{
		Title:           req.Title,
		Content:         req.Content,
		Category:        req.Category,
		Source:          req.Source,
		Score:           req.Score,
		Status:          req.Status,
		Language:        req.Language,
		Keywords:        req.Keywords,
		Metadata:        req.Metadata,
		ExpectedVersion: req.ExpectedVersion,
	}, userID(r))
	s.writeDocumentWrite(w, id, doc, found, err)
}

func (s *Server) revertDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	version, err := intParam(chi.URLParam(r, "version"), "version")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	doc, found, err := s.deps.Documents.RevertToVersion(r.Context(), id, version, userID(r))
	s.writeDocumentWrite(w, id, doc, found, err)
}

func (s *Server) writeDocumentWrite(w http.ResponseWriter, id string, doc document.Document, found bool, err error) {
	switch {
	case errors.Is(err, document.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("document write failed", zap.String("document_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update document")
	case !found:
		writeError(w, http.StatusNotFound, "document not found")
	default:
		writeJSON(w, http.StatusOK, doc)
	}
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, found, err := s.deps.Documents.Get(r.Context(), id); err != nil {
		s.logger.Error("get document failed", zap.String("document_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load document")
		return
	} else if !found {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	versions, err := s.deps.Documents.ListVersions(r.Context(), id)
	if err != nil {
		s.logger.Error("list versions failed", zap.String("document_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list versions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	version, err := intParam(chi.URLParam(r, "version"), "version")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, found, err := s.deps.Documents.GetVersion(r.Context(), id, version)
	if err != nil {
		s.logger.Error("get version failed", zap.String("document_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load version")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "version not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}
