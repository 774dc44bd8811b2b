package rbac

import "testing"

func TestMatchPermission(t *testing.T) {
	tests := []struct {
		pattern  string
		required string
		want     bool
	}{
		{"*:*", "users:read", true},
		{"*:*", "anything:at:all", true},
		{"users:*", "users:read", true},
		{"users:*", "users:send_offer", true},
		{"users:*", "tickets:read", false},
		{"users:read", "users:read", true},
		{"users:read", "users:edit", false},
		{"users:read", "users:readx", false},
		{"*", "users:read", true},
		{"", "", true},
		{"", "users:read", false},
		{"users:r*", "users:read", true},
		{"users:r*", "users:reply", true},
		{"users:r*", "users:block", false},
		{"*:read", "users:read", true},
		{"*:read", "users:edit", false},
		// '*' crosses the colon
		{"users*", "users:read", true},
		// case-sensitive, no '?' semantics
		{"Users:read", "users:read", false},
		{"users:rea?", "users:read", false},
	}

	for _, tt := range tests {
		if got := MatchPermission(tt.pattern, tt.required); got != tt.want {
			t.Errorf("MatchPermission(%q, %q) = %v, want %v", tt.pattern, tt.required, got, tt.want)
		}
	}
}

func TestPermissionGranted(t *testing.T) {
	granted := []string{"tickets:read", "users:*"}

	if !permissionGranted(granted, "users:block") {
		t.Error("expected users:block to be granted via users:*")
	}
	if !permissionGranted(granted, "tickets:read") {
		t.Error("expected exact tickets:read to be granted")
	}
	if permissionGranted(granted, "tickets:reply") {
		t.Error("expected tickets:reply to be denied")
	}
	if permissionGranted(nil, "users:read") {
		t.Error("expected empty grant set to deny everything")
	}
}

func TestSplitPermission(t *testing.T) {
	section, action, ok := splitPermission("users:send_offer")
	if !ok || section != "users" || action != "send_offer" {
		t.Errorf("splitPermission(users:send_offer) = %q, %q, %v", section, action, ok)
	}

	// Only the first colon splits
	section, action, ok = splitPermission("a:b:c")
	if !ok || section != "a" || action != "b:c" {
		t.Errorf("splitPermission(a:b:c) = %q, %q, %v", section, action, ok)
	}

	if _, _, ok := splitPermission("nocolon"); ok {
		t.Error("expected splitPermission to fail without a colon")
	}
}

func TestPolicyMatches(t *testing.T) {
	tests := []struct {
		name     string
		resource string
		actions  []string
		required string
		want     bool
	}{
		{"exact", "users", []string{"read"}, "users:read", true},
		{"action wildcard", "users", []string{"*"}, "users:edit", true},
		{"resource wildcard", "*", []string{"read"}, "tickets:read", true},
		{"wrong section", "users", []string{"read"}, "tickets:read", false},
		{"wrong action", "users", []string{"read", "edit"}, "users:block", false},
		{"second action matches", "users", []string{"read", "block"}, "users:block", true},
		{"no actions", "users", nil, "users:read", false},
		{"malformed required", "users", []string{"*"}, "users", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := &AccessPolicy{Resource: tt.resource, Actions: tt.actions}
			if got := policyMatches(policy, tt.required); got != tt.want {
				t.Errorf("policyMatches(%q/%v, %q) = %v, want %v", tt.resource, tt.actions, tt.required, got, tt.want)
			}
		})
	}
}

func TestAllPermissions(t *testing.T) {
	perms := AllPermissions()
	if len(perms) == 0 {
		t.Fatal("expected registry to contain permissions")
	}

	for i := 1; i < len(perms); i++ {
		if perms[i-1] >= perms[i] {
			t.Fatalf("permissions not sorted: %q before %q", perms[i-1], perms[i])
		}
	}

	seen := map[string]bool{}
	for _, p := range perms {
		if seen[p] {
			t.Errorf("duplicate permission %q", p)
		}
		seen[p] = true
	}

	if !seen["users:read"] || !seen["roles:assign"] || !seen["audit_log:export"] {
		t.Error("expected well-known permissions in registry")
	}
}

func TestValidatePermissions(t *testing.T) {
	valid := [][]string{
		{"*:*"},
		{"users:*", "tickets:read"},
		{},
	}
	for _, perms := range valid {
		if err := ValidatePermissions(perms); err != nil {
			t.Errorf("ValidatePermissions(%v) = %v, want nil", perms, err)
		}
	}

	invalid := [][]string{
		{"users"},
		{"unknown_section:read"},
		{"users:unknown_action"},
		{"*:read"},
	}
	for _, perms := range invalid {
		if err := ValidatePermissions(perms); err == nil {
			t.Errorf("ValidatePermissions(%v) = nil, want error", perms)
		}
	}
}
