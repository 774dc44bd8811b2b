package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/veilnet/warden/pkg/audit"
	"github.com/veilnet/warden/pkg/httputil"
	"github.com/veilnet/warden/pkg/middleware"
	"github.com/veilnet/warden/pkg/observability"
	"github.com/veilnet/warden/pkg/rbac"
)

// Config wires the server's collaborators. Auth is required; the rest
// degrade gracefully when nil.
type Config struct {
	Manager   *rbac.Manager
	Evaluator *rbac.Evaluator
	Auth      *middleware.AuthMiddleware

	// AuditLogger is injected into request contexts so handlers and
	// permission middleware can record entries
	AuditLogger audit.Logger
	// AuditHandlers serves the audit log read/export endpoints
	AuditHandlers *audit.Handlers

	// RateLimit is an optional middleware (in-memory or Redis-backed)
	RateLimit func(http.Handler) http.Handler

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server is the Warden admin API
type Server struct {
	router      *mux.Router
	manager     *rbac.Manager
	evaluator   *rbac.Evaluator
	auditLogger audit.Logger
	logger      *observability.Logger
}

// NewServer creates the API server and mounts all routes under /api/v1
func NewServer(cfg Config) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		manager:     cfg.Manager,
		evaluator:   cfg.Evaluator,
		auditLogger: cfg.AuditLogger,
		logger:      cfg.Logger,
	}
	s.setupRoutes(cfg)
	return s
}

func (s *Server) setupRoutes(cfg Config) {
	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(cfg.Logger),
		httputil.RecoverMiddleware(cfg.Logger),
	)
	if cfg.Metrics != nil {
		s.router.Use(httputil.MetricsMiddleware(cfg.Metrics))
	}
	if cfg.RateLimit != nil {
		s.router.Use(cfg.RateLimit)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(cfg.Auth.Handler)
	if cfg.AuditLogger != nil {
		api.Use(s.auditContext)
	}

	pm := rbac.NewPermissionMiddleware(cfg.Evaluator, cfg.Logger)

	// Role management
	s.guard(api, pm, "GET", "/roles", s.listRoles, "roles:read")
	s.guard(api, pm, "POST", "/roles", s.createRole, "roles:create")
	s.guard(api, pm, "GET", "/roles/{id:[0-9]+}", s.getRole, "roles:read")
	s.guard(api, pm, "PATCH", "/roles/{id:[0-9]+}", s.updateRole, "roles:edit")
	s.guard(api, pm, "DELETE", "/roles/{id:[0-9]+}", s.deleteRole, "roles:delete")
	s.guard(api, pm, "GET", "/roles/{id:[0-9]+}/users", s.countRoleUsers, "roles:read")

	// Assignments
	s.guard(api, pm, "POST", "/assignments", s.assignRole, "roles:assign")
	s.guard(api, pm, "DELETE", "/assignments/{id:[0-9]+}", s.revokeRole, "roles:assign")
	s.guard(api, pm, "GET", "/users/{id:[0-9]+}/roles", s.getUserRoles, "roles:read")
	s.guard(api, pm, "GET", "/users/{id:[0-9]+}/permissions", s.getUserPermissions, "roles:read")
	s.guard(api, pm, "GET", "/admins", s.listAdmins, "roles:read")

	// Policies
	s.guard(api, pm, "GET", "/policies", s.listPolicies, "roles:read")
	s.guard(api, pm, "POST", "/policies", s.createPolicy, "roles:create")
	s.guard(api, pm, "GET", "/policies/{id:[0-9]+}", s.getPolicy, "roles:read")
	s.guard(api, pm, "PATCH", "/policies/{id:[0-9]+}", s.updatePolicy, "roles:edit")
	s.guard(api, pm, "DELETE", "/policies/{id:[0-9]+}", s.deletePolicy, "roles:delete")

	// Permission introspection
	s.guard(api, pm, "GET", "/permissions", s.listPermissions, "roles:read")
	api.HandleFunc("/me/permissions", s.myPermissions).Methods("GET")
	api.HandleFunc("/permissions/check", s.checkPermission).Methods("POST")

	// Audit log (read side; writes happen through the context logger)
	if cfg.AuditHandlers != nil {
		auditRouter := api.NewRoute().Subrouter()
		auditRouter.Use(pm.RequirePermission("audit_log:read"))
		cfg.AuditHandlers.RegisterRoutes(auditRouter)
	}
}

func (s *Server) guard(r *mux.Router, pm *rbac.PermissionMiddleware, method, path string, handler http.HandlerFunc, permissions ...string) {
	r.Handle(path, pm.RequirePermission(permissions...)(handler)).Methods(method)
}

// auditContext makes the audit logger reachable from request contexts
func (s *Server) auditContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := audit.WithLogger(r.Context(), s.auditLogger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
