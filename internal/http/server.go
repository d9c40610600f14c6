package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"budget/internal/core"
	applog "budget/internal/log"
	"budget/internal/middleware/ratelimit"
	"budget/internal/middleware/security"
	"budget/internal/middleware/trace"
	"budget/internal/services"
)

// TransactionAPI is what the handlers need from the transaction service.
type TransactionAPI interface {
	Create(ctx context.Context, t core.Transaction) (core.Transaction, error)
	List(ctx context.Context, kind core.Kind) ([]core.Transaction, error)
	DeleteKind(ctx context.Context, kind core.Kind, id string) error
	Repeat(ctx context.Context, kind core.Kind, id string, today core.Date) (core.Transaction, error)
	History(ctx context.Context, limit int) ([]core.Transaction, error)
}

// RecurringRunner runs the recurrence pipeline on demand. It also tells the
// handlers which calendar day it is in the configured time zone.
type RecurringRunner interface {
	RunAll(ctx context.Context) ([]services.TickReport, error)
	Today() core.Date
}

type Server struct {
	http.Server
	transactions TransactionAPI
	recurring    RecurringRunner
	limiter      *ratelimit.Limiter

	shutdownOnce sync.Once
}

// Options tune the server; the zero value is usable.
type Options struct {
	Logger    *applog.Logger
	RateLimit ratelimit.Config
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server. A nil runner disables the manual recurring trigger.
func NewServer(addr string, api TransactionAPI, runner RecurringRunner, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.Config{Component: applog.ComponentHTTP})
	}

	s := &Server{
		transactions: api,
		recurring:    runner,
		limiter:      ratelimit.NewLimiter(opts.RateLimit),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)

	for _, kind := range core.Kinds() {
		mux.HandleFunc("POST /api/v1/add-"+kind.String(), s.handleAdd(kind))
		mux.HandleFunc("GET /api/v1/get-"+kind.String()+"s", s.handleList(kind))
		mux.HandleFunc("DELETE /api/v1/delete-"+kind.String()+"/{id}", s.handleDelete(kind))
		mux.HandleFunc("POST /api/v1/repeat-"+kind.String()+"/{id}", s.handleRepeat(kind))
	}
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("POST /api/v1/recurring/run", s.handleRecurringRun)

	limited := s.limiter.Middleware(security.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		TooManyRequestsError().Write(w)
	}, http.MethodPost, http.MethodDelete)

	var handler http.Handler = mux
	handler = limited(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = applog.RequestIDMiddleware(trace.RequestID)(handler)
	handler = trace.NewMiddleware(security.ClientIP).Middleware(handler)
	handler = applog.Middleware(logger)(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and the rate limiter
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// ListenAndServe runs the server; a graceful Shutdown is not an error.
func (s *Server) ListenAndServe() error {
	if err := s.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) today() core.Date {
	if s.recurring != nil {
		return s.recurring.Today()
	}
	return core.DateOf(time.Now().UTC())
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]string{"status": "ok"}).Write(w)
}
