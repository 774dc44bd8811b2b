package api

import (
	"net/http"
	"strconv"

	"github.com/veilnet/warden/pkg/audit"
	"github.com/veilnet/warden/pkg/httputil"
	"github.com/veilnet/warden/pkg/rbac"
)

// listRoles handles GET /api/v1/roles
func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	includeInactive := httputil.QueryBool(r, "include_inactive")
	roles, err := s.manager.Roles().ListRoles(r.Context(), includeInactive)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	httputil.WriteSuccess(w, listResponse{Items: roles})
}

// createRole handles POST /api/v1/roles
func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	actor, user, err := s.actor(r)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}

	role := &rbac.Role{
		Name:        req.Name,
		Description: req.Description,
		Level:       req.Level,
		Permissions: req.Permissions,
		Color:       req.Color,
		Icon:        req.Icon,
	}
	if err := s.manager.CreateRole(r.Context(), actor, role); err != nil {
		s.writeRBACError(w, err)
		return
	}

	audit.Record(r.Context(), r, user.ID, audit.ActionRoleCreate, audit.StatusSuccess,
		"role", strconv.FormatInt(role.ID, 10), map[string]interface{}{
			"name":  role.Name,
			"level": role.Level,
		})
	httputil.WriteCreated(w, role)
}

// getRole handles GET /api/v1/roles/{id}
func (s *Server) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	role, err := s.manager.Roles().GetRole(r.Context(), id)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteSuccess(w, role)
}

// updateRole handles PATCH /api/v1/roles/{id}
func (s *Server) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	var fields map[string]interface{}
	if err := httputil.DecodeJSON(r, &fields); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if len(fields) == 0 {
		httputil.WriteBadRequest(w, "no fields to update")
		return
	}

	actor, user, err := s.actor(r)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}

	role, err := s.manager.UpdateRole(r.Context(), actor, id, fields)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}

	audit.Record(r.Context(), r, user.ID, audit.ActionRoleUpdate, audit.StatusSuccess,
		"role", strconv.FormatInt(id, 10), map[string]interface{}{"fields": fieldNames(fields)})
	httputil.WriteSuccess(w, role)
}

// deleteRole handles DELETE /api/v1/roles/{id}
func (s *Server) deleteRole(w http.ResponseWriter, r *http.Request) {
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

	deleted, err := s.manager.DeleteRole(r.Context(), actor, id)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}

	if deleted {
		audit.Record(r.Context(), r, user.ID, audit.ActionRoleDelete, audit.StatusSuccess,
			"role", strconv.FormatInt(id, 10), nil)
	}
	httputil.WriteSuccess(w, deleteResponse{Deleted: deleted})
}

// countRoleUsers handles GET /api/v1/roles/{id}/users
func (s *Server) countRoleUsers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if _, err := s.manager.Roles().GetRole(r.Context(), id); err != nil {
		s.writeRBACError(w, err)
		return
	}
	count, err := s.manager.Roles().CountUsers(r.Context(), id)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"role_id": id, "user_count": count})
}

func fieldNames(fields map[string]interface{}) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	return names
}
