// Package audit provides immutable audit logging for admin actions and
// permission denials.
//
// Entries are written to the admin_audit_log table through DBLogger and
// queried with time, actor, action, and status filters. The Logger
// interface travels through the request context so handlers can record
// events without threading a dependency; a retention job prunes entries
// past the configured window on a cron schedule.
//
// Audit writes never fail the audited operation: helpers like Record
// swallow errors after counting them in metrics.
package audit
