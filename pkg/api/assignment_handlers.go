package api

import (
	"net/http"
	"strconv"

	"github.com/veilnet/warden/pkg/audit"
	"github.com/veilnet/warden/pkg/httputil"
	"github.com/veilnet/warden/pkg/rbac"
)

// assignRole handles POST /api/v1/assignments
func (s *Server) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.UserID == 0 || req.RoleID == 0 {
		httputil.WriteBadRequest(w, "user_id and role_id are required")
		return
	}

	actor, user, err := s.actor(r)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}

	assignment, err := s.manager.AssignRole(r.Context(), actor, rbac.AssignParams{
		UserID:    req.UserID,
		RoleID:    req.RoleID,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		s.writeRBACError(w, err)
		return
	}

	audit.Record(r.Context(), r, user.ID, audit.ActionRoleAssign, audit.StatusSuccess,
		"assignment", strconv.FormatInt(assignment.ID, 10), map[string]interface{}{
			"target_user_id": req.UserID,
			"role_id":        req.RoleID,
		})
	httputil.WriteCreated(w, assignment)
}

// revokeRole handles DELETE /api/v1/assignments/{id}
func (s *Server) revokeRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	actor, user, err := s.actor(r)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}

	revoked, err := s.manager.RevokeRole(r.Context(), actor, id)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}

	if revoked {
		audit.Record(r.Context(), r, user.ID, audit.ActionRoleRevoke, audit.StatusSuccess,
			"assignment", strconv.FormatInt(id, 10), nil)
	}
	httputil.WriteSuccess(w, deleteResponse{Deleted: revoked})
}

// getUserRoles handles GET /api/v1/users/{id}/roles
func (s *Server) getUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	assignments, err := s.manager.Assignments().GetUserRoles(r.Context(), userID)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteSuccess(w, listResponse{Items: assignments})
}

// getUserPermissions handles GET /api/v1/users/{id}/permissions
func (s *Server) getUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	summary, err := s.evaluator.UserPermissions(r.Context(), rbac.CheckInput{UserID: userID})
	if err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteSuccess(w, summary)
}

// listAdmins handles GET /api/v1/admins
func (s *Server) listAdmins(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.QueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.QueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	admins, err := s.manager.Assignments().ListAdmins(r.Context(), limit, offset)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}
	if admins == nil {
		admins = []rbac.AdminEntry{}
	}
	httputil.WriteSuccess(w, listResponse{Items: admins, Limit: limit, Offset: offset})
}
