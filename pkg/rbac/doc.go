// Package rbac implements the hybrid RBAC+ABAC permission engine.
//
// Users hold roles (AssignmentStore) whose wildcard-capable permissions
// form the RBAC layer; access policies (PolicyStore) refine grants with
// attribute conditions such as time windows and IP whitelists. The
// Evaluator combines both: config-based legacy admins bypass the engine,
// RBAC decides whether a permission is granted at all, then matching
// policies run in priority order with deny taking precedence. Allow
// policies never grant anything RBAC withheld.
//
// The Manager wraps the stores with hierarchy rules: an actor only
// manages roles strictly below their own level, system role identity
// fields are immutable, and the last superadmin cannot be revoked.
package rbac
