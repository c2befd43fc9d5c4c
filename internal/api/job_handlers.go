package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
	"github.com/JakeFAU/crawl-ingest/internal/dispatcher"
)

type submitJobRequest struct {
	URL      string             `json:"url"`
	SourceID string             `json:"source_id"`
	Depth    int                `json:"depth"`
	Filters  crawler.JobFilters `json:"filters"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "job submission unavailable")
		return
	}
	var req submitJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Depth < 0 {
		writeError(w, http.StatusBadRequest, "depth must be >= 0")
		return
	}
	job, err := s.deps.Submitter.Submit(r.Context(), dispatcher.Submission{
		URL:      req.URL,
		SourceID: req.SourceID,
		Depth:    req.Depth,
		Filters:  req.Filters,
		UserID:   userID(r),
	})
	switch {
	case errors.Is(err, crawler.ErrEmptyURL), errors.Is(err, dispatcher.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("submit job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job_id": job.ID, "job": job})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	page, limit, err := pageParams(r, s.cfg.PageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status := crawler.JobStatus(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	jobs, total, err := s.deps.Jobs.ListJobs(r.Context(), crawler.JobListOptions{Status: status, Page: page, Limit: limit})
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"total": total,
		"page":  page,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Jobs.GetJob(r.Context(), jobID)
	switch {
	case errors.Is(err, crawler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case err != nil:
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}
