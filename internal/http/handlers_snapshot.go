package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"ledgerdiff/internal/core"
	"ledgerdiff/internal/log"
	"ledgerdiff/internal/services"
	"ledgerdiff/internal/storage"
)

// Uploads above this size are rejected before parsing.
const maxUploadBytes = 32 << 20

// handleHealth performs a basic liveness check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).String(),
	})
}

// handleReady performs a readiness check with dependency verification.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if _, err := s.reports.Registry(ctx); err != nil {
		checks["storage"] = "failed: " + err.Error()
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["storage"] = "ok"
	}

	checks["cache"] = map[string]any{
		"report_entries": s.reportCache.Size(),
		"stats_entries":  s.statsCache.Size(),
		"status":         "ok",
	}
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.limiter.ActiveClients(),
		"status":         "ok",
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// handleDates returns the snapshot registry as a sorted date list.
func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	reg, err := s.reports.Registry(r.Context())
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to list snapshot dates", log.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to list dates")
		return
	}

	dates := make([]string, 0, reg.Len())
	for _, d := range reg.Dates() {
		dates = append(dates, d.String())
	}
	writeJSON(w, http.StatusOK, dates)
}

// handleUpload stores a snapshot file for a date, replacing any previous one.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	logger := log.FromContext(r.Context())

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	date, err := core.ParseDate(strings.TrimSpace(r.FormValue("date")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid or missing date, expected YYYY-MM-DD")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to read upload", log.FieldError, err, log.FieldDate, date.String())
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	if len(content) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	if err := s.reports.Upload(r.Context(), date, header.Filename, content); err != nil {
		if errors.Is(err, services.ErrBadSnapshot) {
			writeError(w, http.StatusUnprocessableEntity, "file is not a readable ledger snapshot")
			return
		}
		logger.ErrorContext(r.Context(), "Failed to store snapshot",
			log.FieldError, err, log.FieldDate, date.String(), log.FieldFilename, header.Filename)
		writeError(w, http.StatusInternalServerError, "failed to store snapshot")
		return
	}

	s.audit.LogSnapshotUploaded(r.Context(), date.String(), header.Filename)
	s.refreshRegistry(r.Context(), date)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "snapshot stored",
		"date":    date.String(),
	})
}

// handleDelete removes the snapshot at /api/delete/{date}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, "DELETE")
		return
	}

	date, err := core.ParseDate(strings.TrimPrefix(r.URL.Path, "/api/delete/"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}

	if err := s.reports.Delete(r.Context(), date); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no snapshot for date "+date.String())
			return
		}
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to delete snapshot",
			log.FieldError, err, log.FieldDate, date.String())
		writeError(w, http.StatusInternalServerError, "failed to delete snapshot")
		return
	}

	// A comparison built on the deleted date is no longer meaningful
	s.session.InvalidateDate(date)
	s.refreshRegistry(r.Context(), date)

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "snapshot deleted",
		"date":    date.String(),
	})
}
