package rbac

import (
	"net/http"
	"strings"

	"github.com/veilnet/warden/pkg/audit"
	"github.com/veilnet/warden/pkg/httputil"
	"github.com/veilnet/warden/pkg/middleware"
	"github.com/veilnet/warden/pkg/observability"
)

// PermissionMiddleware gates HTTP handlers on permission checks
type PermissionMiddleware struct {
	evaluator *Evaluator
	logger    *observability.Logger
}

// NewPermissionMiddleware creates a permission middleware over the
// evaluator
func NewPermissionMiddleware(evaluator *Evaluator, logger *observability.Logger) *PermissionMiddleware {
	return &PermissionMiddleware{evaluator: evaluator, logger: logger}
}

// RequirePermission requires all listed permissions. Denials are
// audited and answered with a 403 carrying the evaluator's reason.
func (pm *PermissionMiddleware) RequirePermission(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := middleware.GetAuthContext(r)
			if authCtx == nil || authCtx.User == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			user := authCtx.User
			input := CheckInput{
				UserID:        user.ID,
				TelegramID:    user.TelegramID,
				Email:         user.Email,
				EmailVerified: user.EmailVerified,
				IP:            httputil.ClientIP(r),
			}

			for _, permission := range permissions {
				input.Permission = permission
				decision, err := pm.evaluator.Check(r.Context(), input)
				if err != nil {
					pm.logger.WithError(err).WithFields(map[string]interface{}{
						"user_id":    user.ID,
						"permission": permission,
					}).Error("Permission check failed")
					httputil.WriteInternalError(w, err)
					return
				}
				if !decision.Allowed {
					audit.Record(r.Context(), r, user.ID, audit.ActionAccessDenied, audit.StatusDenied,
						"permission", permission, map[string]interface{}{"reason": decision.Reason})
					httputil.WriteForbidden(w, decision.Reason)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyPermission requires at least one of the listed permissions
func (pm *PermissionMiddleware) RequireAnyPermission(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := middleware.GetAuthContext(r)
			if authCtx == nil || authCtx.User == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			user := authCtx.User
			input := CheckInput{
				UserID:        user.ID,
				TelegramID:    user.TelegramID,
				Email:         user.Email,
				EmailVerified: user.EmailVerified,
				IP:            httputil.ClientIP(r),
			}

			var lastReason string
			for _, permission := range permissions {
				input.Permission = permission
				decision, err := pm.evaluator.Check(r.Context(), input)
				if err == nil && decision.Allowed {
					next.ServeHTTP(w, r)
					return
				}
				if err == nil {
					lastReason = decision.Reason
				}
			}

			if lastReason == "" {
				lastReason = "permission check failed"
			}
			audit.Record(r.Context(), r, user.ID, audit.ActionAccessDenied, audit.StatusDenied,
				"permission", strings.Join(permissions, ","), map[string]interface{}{"reason": lastReason})
			httputil.WriteForbidden(w, lastReason)
		})
	}
}
