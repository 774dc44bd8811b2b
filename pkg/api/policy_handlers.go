package api

import (
	"net/http"
	"strconv"

	"github.com/veilnet/warden/pkg/audit"
	"github.com/veilnet/warden/pkg/httputil"
	"github.com/veilnet/warden/pkg/rbac"
)

// listPolicies handles GET /api/v1/policies
func (s *Server) listPolicies(w http.ResponseWriter, r *http.Request) {
	roleID, err := httputil.QueryInt64(r, "role_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	policies, err := s.manager.Policies().ListPolicies(r.Context(), roleID)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}
	if policies == nil {
		policies = []rbac.AccessPolicy{}
	}
	httputil.WriteSuccess(w, listResponse{Items: policies})
}

// createPolicy handles POST /api/v1/policies
func (s *Server) createPolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.Name == "" || req.Resource == "" {
		httputil.WriteBadRequest(w, "name and resource are required")
		return
	}

	actor, user, err := s.actor(r)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}

	policy := &rbac.AccessPolicy{
		Name:        req.Name,
		Description: req.Description,
		RoleID:      req.RoleID,
		Priority:    req.Priority,
		Effect:      rbac.PolicyEffect(req.Effect),
		Resource:    req.Resource,
		Actions:     req.Actions,
		Conditions:  req.Conditions,
	}
	if err := s.manager.CreatePolicy(r.Context(), actor, policy); err != nil {
		s.writeRBACError(w, err)
		return
	}

	audit.Record(r.Context(), r, user.ID, audit.ActionPolicyCreate, audit.StatusSuccess,
		"policy", strconv.FormatInt(policy.ID, 10), map[string]interface{}{
			"name":   policy.Name,
			"effect": string(policy.Effect),
		})
	httputil.WriteCreated(w, policy)
}

// getPolicy handles GET /api/v1/policies/{id}
func (s *Server) getPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	policy, err := s.manager.Policies().GetPolicy(r.Context(), id)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}
	httputil.WriteSuccess(w, policy)
}

// updatePolicy handles PATCH /api/v1/policies/{id}
func (s *Server) updatePolicy(w http.ResponseWriter, r *http.Request) {
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

	policy, err := s.manager.UpdatePolicy(r.Context(), actor, id, fields)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}

	audit.Record(r.Context(), r, user.ID, audit.ActionPolicyUpdate, audit.StatusSuccess,
		"policy", strconv.FormatInt(id, 10), map[string]interface{}{"fields": fieldNames(fields)})
	httputil.WriteSuccess(w, policy)
}

// deletePolicy handles DELETE /api/v1/policies/{id}
func (s *Server) deletePolicy(w http.ResponseWriter, r *http.Request) {
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

	deleted, err := s.manager.DeletePolicy(r.Context(), actor, id)
	if err != nil {
		s.writeRBACError(w, err)
		return
	}

	if deleted {
		audit.Record(r.Context(), r, user.ID, audit.ActionPolicyDelete, audit.StatusSuccess,
			"policy", strconv.FormatInt(id, 10), nil)
	}
	httputil.WriteSuccess(w, deleteResponse{Deleted: deleted})
}
