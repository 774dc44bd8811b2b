package rbac

import "sort"

// PermissionRegistry maps admin cabinet sections to their available
// actions. Permission strings are "section:action".
var PermissionRegistry = map[string][]string{
	"users": {
		"read", "edit", "block", "delete", "sync", "promo_group",
		"balance", "subscription", "send_offer", "referral",
	},
	"tickets":         {"read", "reply", "close", "settings"},
	"stats":           {"read", "export"},
	"broadcasts":      {"read", "create", "edit", "delete", "send"},
	"tariffs":         {"read", "create", "edit", "delete"},
	"promocodes":      {"read", "create", "edit", "delete", "stats"},
	"promo_groups":    {"read", "create", "edit", "delete"},
	"promo_offers":    {"read", "create", "edit", "send"},
	"campaigns":       {"read", "create", "edit", "delete", "stats"},
	"partners":        {"read", "edit", "approve", "revoke", "settings"},
	"withdrawals":     {"read", "approve", "reject"},
	"payments":        {"read", "edit", "export"},
	"payment_methods": {"read", "edit"},
	"servers":         {"read", "edit"},
	"traffic":         {"read", "export"},
	"settings":        {"read", "edit"},
	"roles":           {"read", "create", "edit", "delete", "assign"},
	"audit_log":       {"read", "export"},
	"channels":        {"read", "edit"},
	"ban_system":      {"read", "edit", "ban", "unban"},
	"apps":            {"read", "edit"},
	"email_templates": {"read", "edit"},
	"pinned_messages": {"read", "create", "edit", "delete"},
	"updates":         {"read", "manage"},
}

// AllPermissions returns the flat sorted list of every registered
// permission: ["apps:edit", "apps:read", ...]
func AllPermissions() []string {
	var out []string
	for section, actions := range PermissionRegistry {
		for _, action := range actions {
			out = append(out, section+":"+action)
		}
	}
	sort.Strings(out)
	return out
}
