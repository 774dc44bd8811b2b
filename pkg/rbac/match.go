package rbac

// MatchPermission reports whether a granted permission pattern matches a
// required permission string.
//
// Semantics are deliberately narrow and pinned here rather than delegated
// to a glob library: the only special character is '*', which matches any
// run of characters including ':'. Matching is case-sensitive; '?' and
// character classes are ordinary characters.
//
//	MatchPermission("*:*", "users:read")      == true
//	MatchPermission("users:*", "users:read")  == true
//	MatchPermission("users:*", "tickets:read") == false
//	MatchPermission("users:read", "users:read") == true
func MatchPermission(pattern, required string) bool {
	// Greedy matcher with single-level backtracking over '*'
	var p, r int
	star, mark := -1, 0

	for r < len(required) {
		switch {
		case p < len(pattern) && pattern[p] == required[r]:
			p++
			r++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = r
			p++
		case star >= 0:
			p = star + 1
			mark++
			r = mark
		default:
			return false
		}
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// permissionGranted reports whether any granted pattern matches required
func permissionGranted(granted []string, required string) bool {
	for _, g := range granted {
		if MatchPermission(g, required) {
			return true
		}
	}
	return false
}

// splitPermission splits "section:action" at the first colon. ok is false
// when the string has no colon at all.
func splitPermission(permission string) (section, action string, ok bool) {
	for i := 0; i < len(permission); i++ {
		if permission[i] == ':' {
			return permission[:i], permission[i+1:], true
		}
	}
	return "", "", false
}

// policyMatches reports whether a policy's resource and action patterns
// cover the required permission. The policy resource is a section pattern
// ("users" or "*"); actions is a list of action patterns.
func policyMatches(policy *AccessPolicy, required string) bool {
	section, action, ok := splitPermission(required)
	if !ok {
		return false
	}
	if !MatchPermission(policy.Resource, section) {
		return false
	}
	for _, pattern := range policy.Actions {
		if MatchPermission(pattern, action) {
			return true
		}
	}
	return false
}
