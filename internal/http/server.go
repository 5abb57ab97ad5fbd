package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"tutorledger/internal/auth"
	"tutorledger/internal/core"
	applog "tutorledger/internal/log"
	"tutorledger/internal/metrics"
	"tutorledger/internal/middleware/ratelimit"
	"tutorledger/internal/middleware/security"
	"tutorledger/internal/middleware/trace"
	"tutorledger/internal/services"
)

// IncomeService is the record and summary side of the API.
type IncomeService interface {
	AddRecord(ctx context.Context, userID string, in core.RecordInput) (core.Record, error)
	ListRecords(ctx context.Context, userID string) ([]core.Record, error)
	Today(ctx context.Context, userID string, now time.Time) (services.TodayView, error)
	MonthlySummary(ctx context.Context, userID string, key core.MonthKey) (core.MonthlySummary, error)
}

// ArchiveService is the archiving side of the API.
type ArchiveService interface {
	ArchiveCurrentMonth(ctx context.Context, userID string, now time.Time) (services.ArchiveOutcome, error)
	ArchiveMonths(ctx context.Context, userID string, keys []core.MonthKey) (services.BatchResult, error)
	Candidates(ctx context.Context, userID string) ([]core.MonthGroup, error)
	ListArchives(ctx context.Context, userID string) ([]core.Archive, error)
	GetArchive(ctx context.Context, userID, id string) (core.Archive, error)
	DeleteArchive(ctx context.Context, userID, id string) error
}

// Accounts registers and authenticates users.
type Accounts interface {
	Register(ctx context.Context, email, password string) (core.User, error)
	Authenticate(ctx context.Context, email, password string) (core.User, error)
}

// Deps are the collaborators of the server. Metrics, Ready and Logger may be nil.
type Deps struct {
	Income   IncomeService
	Archives ArchiveService
	Accounts Accounts
	JWT      *auth.JWTManager
	Metrics  *metrics.Metrics
	Logger   *applog.Logger

	// Ready reports whether the backing store is reachable.
	Ready func(context.Context) error

	RateLimitPerMinute int
	// Location decides which calendar day and month "now" falls in.
	Location *time.Location
}

// Server is the HTTP API.
type Server struct {
	http.Server

	income   IncomeService
	archives ArchiveService
	accounts Accounts
	jwt      *auth.JWTManager
	metrics  *metrics.Metrics
	ready    func(context.Context) error
	location *time.Location
	now      func() time.Time

	limiter      *ratelimit.Limiter
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}

	s := &Server{
		income:   deps.Income,
		archives: deps.Archives,
		accounts: deps.Accounts,
		jwt:      deps.JWT,
		metrics:  deps.Metrics,
		ready:    deps.Ready,
		location: loc,
		now:      time.Now,
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: deps.RateLimitPerMinute,
			Metrics:           deps.Metrics,
		}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	mux.HandleFunc("GET /api/records", s.handleListRecords)
	mux.HandleFunc("POST /api/records", s.handleCreateRecord)
	mux.HandleFunc("GET /api/records/today", s.handleToday)
	mux.HandleFunc("GET /api/summary", s.handleSummary)

	mux.HandleFunc("POST /api/archives/current", s.handleArchiveCurrent)
	mux.HandleFunc("GET /api/archives/candidates", s.handleCandidates)
	mux.HandleFunc("POST /api/archives/batch", s.handleArchiveBatch)
	mux.HandleFunc("GET /api/archives", s.handleListArchives)
	mux.HandleFunc("GET /api/archives/{id}", s.handleGetArchive)
	mux.HandleFunc("DELETE /api/archives/{id}", s.handleDeleteArchive)

	detector := security.NewDetector(deps.Metrics)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	tracer := trace.NewMiddleware(logger, detector.ExtractClientIP, deps.Metrics)
	limit := s.limiter.Middleware(detector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		applog.FromContext(r.Context()).WithComponent(applog.ComponentRateLimit).WarnContext(r.Context(),
			"Rate limit exceeded",
			applog.FieldClientIP, detector.ExtractClientIP(r),
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "rate_limited", "Too many requests, try again in a minute").Write(w)
	})

	var handler http.Handler = mux
	if deps.JWT != nil {
		handler = auth.Middleware(deps.JWT)(handler)
	}
	handler = limit(handler)
	handler = detector.Middleware(handler)
	handler = headers.Middleware(handler)
	handler = tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// clock returns the current time in the configured calendar.
func (s *Server) clock() time.Time {
	return s.now().In(s.location)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			applog.FromContext(ctx).WarnContext(ctx, "Readiness check failed", applog.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
