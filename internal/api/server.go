// Package api exposes the board over HTTP.
//
// Identity comes from the X-User-ID and X-User-Name headers set by the auth proxy in
// front of the service. Errors are rendered as {"code": ..., "message": ...} with the
// status mapped from the error's code.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Nash0810/kollab-board/internal/locktable"
	"github.com/Nash0810/kollab-board/internal/logging"
	"github.com/Nash0810/kollab-board/internal/resolver"
	"github.com/Nash0810/kollab-board/internal/tasks"
)

// Identity headers.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserName = "X-User-Name"
)

// LockReader is the read-only view of the edit coordinator.
type LockReader interface {
	Locks() []locktable.EditLock
	Holder(taskID string) (locktable.EditLock, bool)
	PendingReleases() int
}

// Presence reports live realtime connections.
type Presence interface {
	ConnectionCount() int
	RoomMembers(taskID string) []string
}

// Pinger reports store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RequestObserver records request metrics.
type RequestObserver interface {
	ObserveRequest(route, method string, status int, elapsed time.Duration)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logging.Component(logger, "api") }
}

// WithHealth enables /healthz against the given store.
func WithHealth(store Pinger) Option {
	return func(s *Server) { s.store = store }
}

// WithPresence adds connection counts to /healthz and viewer counts to task lock lookups.
func WithPresence(p Presence) Option {
	return func(s *Server) { s.presence = p }
}

// WithMetrics serves /metrics and records request metrics.
func WithMetrics(handler http.Handler, observer RequestObserver) Option {
	return func(s *Server) {
		s.metricsHandler = handler
		s.observer = observer
	}
}

// WithRealtime mounts the WebSocket endpoint at /ws.
func WithRealtime(handler http.Handler) Option {
	return func(s *Server) { s.realtime = handler }
}

// Server routes HTTP requests to the board services.
type Server struct {
	tasks    *tasks.Service
	resolver *resolver.Resolver
	locks    LockReader

	store          Pinger
	presence       Presence
	metricsHandler http.Handler
	observer       RequestObserver
	realtime       http.Handler

	logger *slog.Logger
	now    func() time.Time
	router *mux.Router
}

// New creates the API server and builds its routes.
func New(taskSvc *tasks.Service, res *resolver.Resolver, locks LockReader, opts ...Option) *Server {
	s := &Server{
		tasks:    taskSvc,
		resolver: res,
		locks:    locks,
		logger:   logging.Component(nil, "api"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	if s.store != nil {
		r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	}
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler).Methods(http.MethodGet)
	}
	if s.realtime != nil {
		r.Handle("/ws", s.realtime).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.observe, identify)

	api.HandleFunc("/tasks", s.handleListTasks).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.handleCreateTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/resolve-conflict", s.handleResolveConflict).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)
	api.HandleFunc("/tasks/{id}", s.handleUpdateTask).Methods(http.MethodPut)
	api.HandleFunc("/tasks/{id}", s.handleDeleteTask).Methods(http.MethodDelete)
	api.HandleFunc("/tasks/{id}/smart-assign", s.handleSmartAssign).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/lock", s.handleTaskLock).Methods(http.MethodGet)

	api.HandleFunc("/locks", s.handleListLocks).Methods(http.MethodGet)

	api.HandleFunc("/comments/{taskId}", s.handleListComments).Methods(http.MethodGet)
	api.HandleFunc("/comments", s.handleAddComment).Methods(http.MethodPost)

	api.HandleFunc("/activities", s.handleListActivities).Methods(http.MethodGet)

	api.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/me", s.handleRegisterUser).Methods(http.MethodPut)

	return r
}

type actorKey struct{}

// identify stores the caller's identity headers on the request context.
func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := tasks.Actor{
			ID:   r.Header.Get(HeaderUserID),
			Name: r.Header.Get(HeaderUserName),
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(r *http.Request) tasks.Actor {
	actor, _ := r.Context().Value(actorKey{}).(tasks.Actor)
	return actor
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// observe records per-route request metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.observer == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.observer.ObserveRequest(route, r.Method, rec.status, s.now().Sub(start))
	})
}
