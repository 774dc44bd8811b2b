package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/veilnet/warden/pkg/auth"
	"github.com/veilnet/warden/pkg/httputil"
	"github.com/veilnet/warden/pkg/middleware"
	"github.com/veilnet/warden/pkg/rbac"
)

// actor resolves the requesting user into an Actor with their authority
// level. Auth middleware guarantees the auth context exists on guarded
// routes.
func (s *Server) actor(r *http.Request) (rbac.Actor, *auth.User, error) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil || authCtx.User == nil {
		return rbac.Actor{}, nil, fmt.Errorf("authentication required")
	}
	user := authCtx.User

	summary, err := s.evaluator.UserPermissions(r.Context(), rbac.CheckInput{
		UserID:        user.ID,
		TelegramID:    user.TelegramID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
	})
	if err != nil {
		return rbac.Actor{}, nil, err
	}
	return rbac.Actor{UserID: user.ID, Level: summary.Level}, user, nil
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// writeRBACError maps store and manager errors onto HTTP statuses
func (s *Server) writeRBACError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, rbac.ErrConflict):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, rbac.ErrForbidden):
		httputil.WriteForbidden(w, err.Error())
	case errors.Is(err, rbac.ErrInvalid):
		httputil.WriteBadRequest(w, err.Error())
	default:
		s.logger.WithError(err).Error("Request failed")
		httputil.WriteInternalError(w, fmt.Errorf("internal error"))
	}
}
