// Package api exposes the Warden admin HTTP API: role, assignment, and
// policy management, permission introspection, and the audit log read
// endpoints. Every route under /api/v1 requires a bearer token; mutating
// routes are additionally gated on roles:* permissions and write audit
// entries.
package api
