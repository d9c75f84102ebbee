package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ledgerdiff/internal/assistant"
	"ledgerdiff/internal/core"
	"ledgerdiff/internal/diff"
	"ledgerdiff/internal/log"
	"ledgerdiff/internal/storage"
)

type analyzeRequest struct {
	DateOld string `json:"date_old"`
	DateNew string `json:"date_new"`
}

// parsePair decodes and validates a snapshot pair from a JSON body.
func parsePair(w http.ResponseWriter, r *http.Request) (core.ComparisonKey, bool) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return core.ComparisonKey{}, false
	}

	oldDate, err := core.ParseDate(strings.TrimSpace(req.DateOld))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date_old, expected YYYY-MM-DD")
		return core.ComparisonKey{}, false
	}
	newDate, err := core.ParseDate(strings.TrimSpace(req.DateNew))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date_new, expected YYYY-MM-DD")
		return core.ComparisonKey{}, false
	}

	key, err := core.NewComparisonKey(oldDate, newDate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "date_old must be before date_new")
		return core.ComparisonKey{}, false
	}
	return key, true
}

// compareCached runs a comparison through the in-process LRU, falling back to
// the backend (which itself consults the SQLite report cache).
func (s *Server) compareCached(r *http.Request, key core.ComparisonKey) (*diff.Report, error) {
	if rep, ok := s.reportCache.Get(key.String()); ok {
		return rep, nil
	}

	start := time.Now()
	rep, err := s.reports.Compare(r.Context(), key)
	if err != nil {
		return nil, err
	}
	s.audit.LogReportComputed(r.Context(), key.Old.String(), key.New.String(),
		len(rep.DailyReport), time.Since(start).Milliseconds())

	s.reportCache.Set(key.String(), rep)
	return rep, nil
}

// handleAnalyze compares an explicit snapshot pair.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	key, ok := parsePair(w, r)
	if !ok {
		return
	}

	rep, err := s.compareCached(r, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no upload for selected date(s)")
			return
		}
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Analysis failed",
			log.FieldError, err,
			log.FieldDateOld, key.Old.String(),
			log.FieldDateNew, key.New.String())
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "analysis complete",
		"data":    rep,
	})
}

// handleMonthlyStats returns per-date cached impact for a month.
func (s *Server) handleMonthlyStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	year, month := parseYearMonth(r)
	if month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "month must be between 1 and 12")
		return
	}

	ck := monthKey(year, month)
	if stats, ok := s.statsCache.Get(ck); ok {
		writeJSON(w, http.StatusOK, stats)
		return
	}

	stats, err := s.reports.MonthlyStats(r.Context(), year, month)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Monthly stats failed",
			log.FieldError, err, log.FieldYear, year, log.FieldMonth, month)
		writeError(w, http.StatusInternalServerError, "failed to compute monthly stats")
		return
	}

	s.statsCache.Set(ck, stats)
	writeJSON(w, http.StatusOK, stats)
}

// handleAskReport forwards a question about the report to the assistant.
func (s *Server) handleAskReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	var req struct {
		Question    string `json:"question"`
		ContextData string `json:"context_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	if s.assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "assistant not configured")
		return
	}

	answer, err := s.assistant.Ask(r.Context(), req.Question, req.ContextData)
	if err != nil {
		if errors.Is(err, assistant.ErrNotConfigured) {
			writeError(w, http.StatusServiceUnavailable, "assistant not configured")
			return
		}
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Assistant request failed", log.FieldError, err)
		writeError(w, http.StatusBadGateway, "assistant request failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

// handleDailyReport drives the single-date selection flow: the date is paired
// with its registry predecessor, or the view explains why not.
func (s *Server) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	date, ok := dateParam(r, "date")
	if !ok {
		writeError(w, http.StatusBadRequest, "date query parameter is required, expected YYYY-MM-DD")
		return
	}

	writeJSON(w, http.StatusOK, s.session.SelectDate(r.Context(), date))
}

// handleRangeReport drives the range selection flow for an explicit pair of
// endpoints. Reversed endpoints are swapped, not rejected.
func (s *Server) handleRangeReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	start, ok := dateParam(r, "start")
	if !ok {
		writeError(w, http.StatusBadRequest, "start query parameter is required, expected YYYY-MM-DD")
		return
	}
	end, ok := dateParam(r, "end")
	if !ok {
		writeError(w, http.StatusBadRequest, "end query parameter is required, expected YYYY-MM-DD")
		return
	}

	writeJSON(w, http.StatusOK, s.session.SelectRange(r.Context(), start, end))
}

// handleFilterSector toggles the sector cross-filter on the current view.
func (s *Server) handleFilterSector(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	var req struct {
		Sector string `json:"sector"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Sector) == "" {
		writeError(w, http.StatusBadRequest, "sector is required")
		return
	}

	writeJSON(w, http.StatusOK, s.session.ToggleSector(req.Sector))
}

// handleClassify buckets the current report's rows at a slider threshold.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	index, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("threshold_index")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "threshold_index query parameter is required")
		return
	}
	threshold, err := core.ThresholdAt(index)
	if err != nil {
		writeError(w, http.StatusBadRequest, "threshold_index must be between 0 and 7")
		return
	}

	view := s.session.View()
	if view.Report == nil {
		writeError(w, http.StatusNotFound, "no active report to classify")
		return
	}

	writeJSON(w, http.StatusOK, core.Classify(view.Report.DailyReport, threshold))
}

// handleExport appends a report's daily rows to the configured sheet.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export not configured")
		return
	}

	key, ok := parsePair(w, r)
	if !ok {
		return
	}

	rep, err := s.compareCached(r, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no upload for selected date(s)")
			return
		}
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Analysis failed",
			log.FieldError, err,
			log.FieldDateOld, key.Old.String(),
			log.FieldDateNew, key.New.String())
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	ref, err := s.exporter.ExportReport(r.Context(), key, rep)
	if err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Sheet export failed",
			log.FieldError, err,
			log.FieldDateOld, key.Old.String(),
			log.FieldDateNew, key.New.String())
		writeError(w, http.StatusBadGateway, "export failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":    "report exported",
		"sheets_ref": ref,
	})
}
