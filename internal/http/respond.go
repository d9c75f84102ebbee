package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ledgerdiff/internal/core"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeError sends a JSON error body, the API's uniform failure shape.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// methodNotAllowed answers a request using the wrong verb.
func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// dateParam parses a required YYYY-MM-DD query parameter.
func dateParam(r *http.Request, name string) (core.Date, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return core.Date{}, false
	}
	d, err := core.ParseDate(v)
	if err != nil {
		return core.Date{}, false
	}
	return d, true
}

// parseYearMonth extracts year and month from query parameters, defaulting to
// the current month.
func parseYearMonth(r *http.Request) (year, month int) {
	now := time.Now()
	year = now.Year()
	month = int(now.Month())

	if v := strings.TrimSpace(r.URL.Query().Get("year")); v != "" {
		if y, err := strconv.Atoi(v); err == nil {
			year = y
		}
	}
	if v := strings.TrimSpace(r.URL.Query().Get("month")); v != "" {
		if m, err := strconv.Atoi(v); err == nil {
			month = m
		}
	}

	return year, month
}

// keyInvolvesDate reports whether a cached comparison key (old_new) touches
// the given date.
func keyInvolvesDate(key string, d core.Date) bool {
	return strings.Contains(key, d.String())
}

// monthKey builds the stats cache key for a year and month.
func monthKey(year, month int) string {
	return strconv.Itoa(year) + "-" + strconv.Itoa(month)
}
