package rbac

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/veilnet/warden/pkg/observability"
)

// Metric label values for check outcomes. Full reason strings carry
// policy names and would blow up label cardinality, so checks are
// bucketed into these fixed codes.
const (
	reasonCodeLegacyAdmin = "legacy_admin"
	reasonCodeNoRoles     = "no_roles"
	reasonCodeNoGrant     = "no_rbac_grant"
	reasonCodePolicyDeny  = "policy_deny"
	reasonCodeRBAC        = "rbac"
	reasonCodeRBACABAC    = "rbac_abac"
	reasonCodeCached      = "cached"
)

// AssignmentSource yields a user's role assignments
type AssignmentSource interface {
	GetUserRoles(ctx context.Context, userID int64) ([]RoleAssignment, error)
}

// PolicySource yields the policies applicable to a set of roles, in
// evaluation order (priority descending, ID ascending)
type PolicySource interface {
	PoliciesForUser(ctx context.Context, roleIDs []int64) ([]AccessPolicy, error)
}

// LegacyAdminChecker recognizes config-based admins who bypass the
// engine entirely
type LegacyAdminChecker interface {
	IsLegacyAdmin(telegramID int64, email string, emailVerified bool) bool
}

// CheckInput carries everything a permission check needs about the
// requesting user and request
type CheckInput struct {
	UserID        int64
	TelegramID    int64
	Email         string
	EmailVerified bool
	Permission    string
	IP            string
}

// Evaluator decides permission checks: config-based legacy admins pass
// unconditionally, then RBAC grants gate access, then matching policies
// refine it with deny taking precedence.
type Evaluator struct {
	assignments AssignmentSource
	policies    PolicySource
	legacy      LegacyAdminChecker
	cache       *DecisionCache
	logger      *observability.Logger
	metrics     *observability.Metrics
	tracer      trace.Tracer

	now func() time.Time
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithCache attaches a decision cache
func WithCache(cache *DecisionCache) EvaluatorOption {
	return func(e *Evaluator) { e.cache = cache }
}

// WithMetrics attaches prometheus metrics
func WithMetrics(metrics *observability.Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = metrics }
}

// WithClock overrides the evaluator's clock
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates a permission evaluator
func NewEvaluator(assignments AssignmentSource, policies PolicySource, legacy LegacyAdminChecker, logger *observability.Logger, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		assignments: assignments,
		policies:    policies,
		legacy:      legacy,
		logger:      logger,
		tracer:      otel.Tracer("warden/rbac"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check evaluates whether the user holds the required permission right
// now. The returned Decision always carries a human-readable reason; an
// error is returned only for store failures, never for denials.
func (e *Evaluator) Check(ctx context.Context, input CheckInput) (Decision, error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "rbac.Check", trace.WithAttributes(
		attribute.Int64("user.id", input.UserID),
		attribute.String("permission", input.Permission),
	))
	defer span.End()

	if e.legacy != nil && e.legacy.IsLegacyAdmin(input.TelegramID, input.Email, input.EmailVerified) {
		return e.finish(span, start, Decision{Allowed: true, Reason: "granted by legacy admin config"}, reasonCodeLegacyAdmin), nil
	}

	if e.cache != nil {
		if decision, ok := e.cache.Get(input.UserID, input.Permission, input.IP); ok {
			e.observe(true, decision.Allowed, reasonCodeCached, e.now().Sub(start))
			span.SetAttributes(attribute.Bool("cache.hit", true), attribute.Bool("allowed", decision.Allowed))
			return decision, nil
		}
	}

	decision, code, err := e.evaluate(ctx, input)
	if err != nil {
		span.RecordError(err)
		return Decision{}, err
	}

	if e.cache != nil {
		e.cache.Put(input.UserID, input.Permission, input.IP, decision)
	}
	return e.finish(span, start, decision, code), nil
}

func (e *Evaluator) evaluate(ctx context.Context, input CheckInput) (Decision, string, error) {
	assignments, err := e.assignments.GetUserRoles(ctx, input.UserID)
	if err != nil {
		return Decision{}, "", fmt.Errorf("failed to load user roles: %w", err)
	}

	agg := aggregateAssignments(assignments, e.now().UTC())
	if len(agg.permissions) == 0 {
		return Decision{Reason: "no active roles assigned"}, reasonCodeNoRoles, nil
	}
	if !permissionGranted(agg.permissions, input.Permission) {
		return Decision{Reason: "permission not granted by any role"}, reasonCodeNoGrant, nil
	}

	policies, err := e.policies.PoliciesForUser(ctx, agg.roleIDs)
	if err != nil {
		return Decision{}, "", fmt.Errorf("failed to load policies: %w", err)
	}

	// Conditions compare UTC wall-clock time regardless of host zone
	condInput := ConditionInput{IP: input.IP, Now: e.now().UTC()}
	for i := range policies {
		policy := &policies[i]
		if !policyMatches(policy, input.Permission) {
			continue
		}
		conditions, err := ParseConditions(policy.Conditions)
		if err != nil {
			e.logger.WithError(err).WithFields(map[string]interface{}{
				"policy_id": policy.ID,
				"policy":    policy.Name,
			}).Warn("Malformed policy conditions, treating as unsatisfied")
			continue
		}
		if !conditions.Satisfied(condInput, e.logger) {
			continue
		}
		if policy.Effect == EffectDeny {
			if e.metrics != nil {
				e.metrics.PolicyDenialsTotal.WithLabelValues(policy.Name).Inc()
			}
			return Decision{Reason: "denied by policy: " + policy.Name}, reasonCodePolicyDeny, nil
		}
	}

	// The reason distinguishes whether ABAC had any say: candidate
	// policies existed and none denied, even if none applied
	if len(policies) > 0 {
		return Decision{Allowed: true, Reason: "granted by RBAC + ABAC"}, reasonCodeRBACABAC, nil
	}
	return Decision{Allowed: true, Reason: "granted by RBAC"}, reasonCodeRBAC, nil
}

// UserPermissions returns the aggregated RBAC view of the user. A legacy
// admin with no role rows reports the full wildcard under a synthetic
// "superadmin" role, one level above any real role; role assignments,
// once present, take over.
func (e *Evaluator) UserPermissions(ctx context.Context, input CheckInput) (*PermissionSummary, error) {
	assignments, err := e.assignments.GetUserRoles(ctx, input.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user roles: %w", err)
	}
	agg := aggregateAssignments(assignments, e.now().UTC())

	if len(agg.permissions) == 0 &&
		e.legacy != nil && e.legacy.IsLegacyAdmin(input.TelegramID, input.Email, input.EmailVerified) {
		return &PermissionSummary{
			Permissions: []string{"*:*"},
			Roles:       []string{"superadmin"},
			Level:       LegacyAdminLevel,
		}, nil
	}

	return &PermissionSummary{
		Permissions: agg.permissions,
		Roles:       agg.roleNames,
		Level:       agg.maxLevel,
	}, nil
}

func (e *Evaluator) finish(span trace.Span, start time.Time, decision Decision, code string) Decision {
	span.SetAttributes(
		attribute.Bool("allowed", decision.Allowed),
		attribute.String("reason_code", code),
	)
	e.observe(false, decision.Allowed, code, e.now().Sub(start))
	return decision
}

func (e *Evaluator) observe(cacheHit, allowed bool, code string, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	if cacheHit {
		e.metrics.CacheHitsTotal.Inc()
	} else if e.cache != nil {
		e.metrics.CacheMissesTotal.Inc()
	}
	e.metrics.ObserveCheck(allowed, code, elapsed)
}

type assignmentAggregate struct {
	permissions []string
	roleNames   []string
	roleIDs     []int64
	maxLevel    int
}

// aggregateAssignments folds assignments into the effective permission
// set, skipping expired assignments and inactive roles. Permissions are
// deduplicated and sorted.
func aggregateAssignments(assignments []RoleAssignment, now time.Time) assignmentAggregate {
	agg := assignmentAggregate{
		permissions: []string{},
		roleNames:   []string{},
		roleIDs:     []int64{},
	}
	permSet := make(map[string]struct{})

	for i := range assignments {
		a := &assignments[i]
		if a.Expired(now) {
			continue
		}
		if a.Role == nil || !a.Role.IsActive {
			continue
		}
		for _, p := range a.Role.Permissions {
			permSet[p] = struct{}{}
		}
		agg.roleNames = append(agg.roleNames, a.Role.Name)
		agg.roleIDs = append(agg.roleIDs, a.Role.ID)
		if a.Role.Level > agg.maxLevel {
			agg.maxLevel = a.Role.Level
		}
	}

	for p := range permSet {
		agg.permissions = append(agg.permissions, p)
	}
	sort.Strings(agg.permissions)
	return agg
}
