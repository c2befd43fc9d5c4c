package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
)

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Sources.ListSources(r.Context())
	if err != nil {
		s.logger.Error("list sources failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	src, err := s.deps.Sources.GetSource(r.Context(), id)
	switch {
	case errors.Is(err, crawler.ErrSourceNotFound):
		writeError(w, http.StatusNotFound, "source not found")
		return
	case err != nil:
		s.logger.Error("get source failed", zap.String("source_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load source")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": src})
}

func (s *Server) createSource(w http.ResponseWriter, r *http.Request) {
	var src crawler.Source
	if err := decodeJSON(r, &src); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	src.ID = strings.TrimSpace(src.ID)
	switch {
	case src.ID == "":
		writeError(w, http.StatusBadRequest, "id is required")
		return
	case strings.TrimSpace(src.BaseURL) == "":
		writeError(w, http.StatusBadRequest, "base_url is required")
		return
	case src.Status != "" && src.Status != crawler.SourceStatusActive && src.Status != crawler.SourceStatusInactive:
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if src.Name == "" {
		src.Name = src.ID
	}
	err := s.deps.Sources.CreateSource(r.Context(), src)
	switch {
	case errors.Is(err, crawler.ErrSourceExists):
		writeError(w, http.StatusConflict, "source already exists")
		return
	case err != nil:
		s.logger.Error("create source failed", zap.String("source_id", src.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create source")
		return
	}
	created, err := s.deps.Sources.GetSource(r.Context(), src.ID)
	if err != nil {
		s.logger.Error("reload source failed", zap.String("source_id", src.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load source")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"source": created})
}
