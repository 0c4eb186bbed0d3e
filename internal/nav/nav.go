// Package nav filters the sidebar navigation tree down to what a principal
// is allowed to see. The same engine decides navigation visibility and
// route access, so the menu never links to a page the guard would reject.
package nav

import "garrison.org/internal/authz"

// Item is a node in the navigation tree. Items with children are sections;
// a section with its own Action is gated as a whole before its children are
// considered.
type Item struct {
	Key           string       `json:"key"`
	Label         string       `json:"label"`
	Path          string       `json:"path,omitempty"`
	Icon          string       `json:"icon,omitempty"`
	Action        authz.Action `json:"-"`
	AdminBaseline bool         `json:"-"`
	Children      []Item       `json:"children,omitempty"`
}

// Filter prunes the tree for the principal. Leaves gated by an action are
// kept only when the engine allows it; ungated leaves are always visible.
// Sections whose own gate denies are dropped with their whole subtree, and
// sections left with no visible children disappear rather than render as
// empty headers. Super admins always see the full tree.
func Filter(p authz.Principal, tree []Item) []Item {
	if p.HasRole(authz.RoleSuperAdmin) {
		return tree
	}
	return filterItems(p, tree)
}

func filterItems(p authz.Principal, items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if !allowed(p, item) {
			continue
		}
		if len(item.Children) > 0 {
			children := filterItems(p, item.Children)
			if len(children) == 0 {
				continue
			}
			item.Children = children
		}
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func allowed(p authz.Principal, item Item) bool {
	d := authz.Authorize(authz.Input{
		Principal: p,
		Resource: authz.Resource{
			ID:            item.Key,
			Type:          "nav_item",
			AdminBaseline: item.AdminBaseline,
		},
		Action: item.Action,
	})
	return d.Allow
}

// DefaultTree is the application's full navigation tree before filtering.
func DefaultTree() []Item {
	return []Item{
		{Key: "home", Label: "Home", Path: "/", Icon: "home"},
		{
			Key: "cadets", Label: "Officer Cadets", Icon: "users",
			Children: []Item{
				{Key: "dossier", Label: "Dossiers", Path: "/cadets/dossier", Action: authz.Action{Domain: "oc", Resource: "dossier", Verb: "read"}},
				{Key: "academics", Label: "Academics", Path: "/cadets/academics", Action: authz.Action{Domain: "oc", Resource: "academics", Verb: "read"}},
				{Key: "pt", Label: "Physical Training", Path: "/cadets/pt", Action: authz.Action{Domain: "oc", Resource: "pt", Verb: "read"}},
				{Key: "conduct", Label: "Conduct", Path: "/cadets/conduct", Action: authz.Action{Domain: "oc", Resource: "conduct", Verb: "read"}},
			},
		},
		{
			Key: "admin", Label: "Administration", Icon: "shield", AdminBaseline: true,
			Action: authz.Action{Domain: "admin", Resource: "panel", Verb: "view"},
			Children: []Item{
				{Key: "roles", Label: "Roles & Permissions", Path: "/admin/roles", AdminBaseline: true, Action: authz.ActionPolicyManage},
				{Key: "appointments", Label: "Appointments", Path: "/admin/appointments", AdminBaseline: true, Action: authz.ActionAppointmentsManage},
				{Key: "audit", Label: "Audit Trail", Path: "/admin/audit", AdminBaseline: true, Action: authz.ActionAuditRead},
			},
		},
	}
}
