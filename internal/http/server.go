// Package http exposes the dashboard API: snapshot registry maintenance,
// comparison analysis, monthly impact stats, report Q&A, and Sheets export.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ledgerdiff/internal/cache"
	"ledgerdiff/internal/core"
	"ledgerdiff/internal/diff"
	"ledgerdiff/internal/log"
	"ledgerdiff/internal/middleware/ratelimit"
	"ledgerdiff/internal/middleware/security"
	"ledgerdiff/internal/middleware/trace"
	"ledgerdiff/internal/services"
	"ledgerdiff/internal/session"
)

// ReportBackend is the snapshot and report surface the handlers call into.
type ReportBackend interface {
	Registry(ctx context.Context) (core.Registry, error)
	Upload(ctx context.Context, date core.Date, filename string, content []byte) error
	Delete(ctx context.Context, date core.Date) error
	Compare(ctx context.Context, key core.ComparisonKey) (*diff.Report, error)
	MonthlyStats(ctx context.Context, year, month int) ([]services.MonthlyStat, error)
}

// Assistant answers free-form questions about a report.
type Assistant interface {
	Ask(ctx context.Context, question, contextData string) (string, error)
}

// Exporter appends a report's rows to an external sheet.
type Exporter interface {
	ExportReport(ctx context.Context, key core.ComparisonKey, rep *diff.Report) (string, error)
}

// Deps bundles the collaborators a Server needs. Assistant and Exporter are
// optional; their endpoints answer 503 when unset.
type Deps struct {
	Reports   ReportBackend
	Session   *session.Session
	Assistant Assistant
	Exporter  Exporter
	Logger    *log.Logger
	CacheSize int
	CacheTTL  time.Duration
}

type Server struct {
	http.Server
	reports   ReportBackend
	session   *session.Session
	assistant Assistant
	exporter  Exporter
	logger    *log.Logger
	audit     *log.StructuredLogger

	detector *security.Detector
	headers  *security.HeadersMiddleware
	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware

	// In-process caches in front of SQLite; invalidated on upload/delete
	reportCache *cache.LRUCache[*diff.Report]
	statsCache  *cache.LRUCache[[]services.MonthlyStat]
	caches      *cache.Manager

	startedAt    time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.New(log.DefaultConfig())
	}
	if deps.CacheSize <= 0 {
		deps.CacheSize = 64
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = 10 * time.Minute
	}

	mux := http.NewServeMux()

	detector := security.NewDetector()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		reports:   deps.Reports,
		session:   deps.Session,
		assistant: deps.Assistant,
		exporter:  deps.Exporter,
		logger:    deps.Logger.WithComponent(log.ComponentHTTP),
		audit:     log.NewStructuredLogger(deps.Logger),

		detector: detector,
		headers:  security.NewHeadersMiddleware(security.DefaultHeadersConfig()),
		limiter:  ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		tracer:   trace.NewMiddleware(detector.ExtractClientIP),

		reportCache: cache.NewLRUCache[*diff.Report](deps.CacheSize, deps.CacheTTL),
		statsCache:  cache.NewLRUCache[[]services.MonthlyStat](deps.CacheSize, deps.CacheTTL),
		caches:      cache.NewManager(),

		startedAt: time.Now(),
	}

	s.caches.Register(s.reportCache)
	s.caches.Register(s.statsCache)
	s.caches.StartCleanup(deps.CacheTTL)

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	mux.Handle("/api/dates", s.secure(s.handleDates))
	mux.Handle("/api/upload", s.secure(s.handleUpload))
	mux.Handle("/api/delete/", s.secure(s.handleDelete))
	mux.Handle("/api/analyze", s.secure(s.handleAnalyze))
	mux.Handle("/api/stats/monthly", s.secure(s.handleMonthlyStats))
	mux.Handle("/api/ask-report", s.secure(s.handleAskReport))
	mux.Handle("/api/report/daily", s.secure(s.handleDailyReport))
	mux.Handle("/api/report/range", s.secure(s.handleRangeReport))
	mux.Handle("/api/report/filter", s.secure(s.handleFilterSector))
	mux.Handle("/api/report/classify", s.secure(s.handleClassify))
	mux.Handle("/api/export", s.secure(s.handleExport))

	return s
}

// secure wraps an API handler with tracing, request-scoped logging, security
// headers, and mutation rate limiting.
func (s *Server) secure(next http.HandlerFunc) http.Handler {
	h := http.Handler(next)
	h = s.guardMutations(h)
	h = s.headers.Middleware(h)
	h = log.Middleware(s.logger)(h)
	h = s.tracer.Middleware(h)
	return h
}

// guardMutations rate-limits state-changing requests per client IP and counts
// suspicious request shapes. Reads stay unthrottled.
func (s *Server) guardMutations(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := s.detector.ExtractClientIP(r)

		if s.detector.DetectSuspiciousRequest(r) {
			s.logger.WarnContext(r.Context(), "Suspicious request pattern",
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
		}

		if (r.Method == http.MethodPost || r.Method == http.MethodDelete) && !s.limiter.Allow(clientIP) {
			s.logger.WarnContext(r.Context(), "Rate limit exceeded",
				log.FieldClientIP, clientIP,
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// refreshRegistry reloads the snapshot registry into the session after a
// mutation, re-running the active selection, and drops cached responses
// referencing the changed date.
func (s *Server) refreshRegistry(ctx context.Context, changed core.Date) {
	reg, err := s.reports.Registry(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to reload registry", log.FieldError, err)
		return
	}
	s.session.RefreshRegistry(ctx, reg, changed)

	dropped := s.reportCache.DeleteFunc(func(key string) bool {
		return keyInvolvesDate(key, changed)
	})
	// Impact stats can shift in neighboring months when the registry edge
	// moves, so the whole stats cache goes.
	dropped += s.statsCache.DeleteFunc(func(string) bool { return true })
	if dropped > 0 {
		s.logger.DebugContext(ctx, "Invalidated cached responses",
			log.FieldDate, changed.String(), "entries", dropped)
	}
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
