package api

import (
	"net/http"

	"github.com/veilnet/warden/pkg/httputil"
	"github.com/veilnet/warden/pkg/middleware"
	"github.com/veilnet/warden/pkg/rbac"
)

// listPermissions handles GET /api/v1/permissions: the full registry of
// sections and actions, plus the flat permission list
func (s *Server) listPermissions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"registry":    rbac.PermissionRegistry,
		"permissions": rbac.AllPermissions(),
	})
}

// myPermissions handles GET /api/v1/me/permissions: the caller's own
// aggregated RBAC view
func (s *Server) myPermissions(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil || authCtx.User == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	user := authCtx.User

	summary, err := s.evaluator.UserPermissions(r.Context(), rbac.CheckInput{
		UserID:        user.ID,
		TelegramID:    user.TelegramID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
	})
	if err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteSuccess(w, summary)
}

// checkPermission handles POST /api/v1/permissions/check: evaluates one
// permission for the caller, returning the decision with its reason
// instead of a 403
func (s *Server) checkPermission(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil || authCtx.User == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	user := authCtx.User

	var req checkPermissionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.Permission == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}

	decision, err := s.evaluator.Check(r.Context(), rbac.CheckInput{
		UserID:        user.ID,
		TelegramID:    user.TelegramID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Permission:    req.Permission,
		IP:            httputil.ClientIP(r),
	})
	if err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteSuccess(w, decision)
}
