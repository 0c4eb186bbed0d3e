package nav

import (
	"testing"

	"garrison.org/internal/authz"
)

func principalWith(roles []string, perms []string) authz.Principal {
	p := authz.Principal{
		ID:    "u1",
		Type:  authz.PrincipalUser,
		Roles: make(map[string]struct{}, len(roles)),
		Attrs: authz.Attrs{
			UserID:      "u1",
			Permissions: make(map[string]struct{}, len(perms)),
			Denied:      map[string]struct{}{},
		},
	}
	for _, r := range roles {
		p.Roles[authz.NormalizeRoleKey(r)] = struct{}{}
	}
	for _, k := range perms {
		p.Attrs.Permissions[k] = struct{}{}
	}
	return p
}

func keys(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Key)
	}
	return out
}

func find(items []Item, key string) *Item {
	for i := range items {
		if items[i].Key == key {
			return &items[i]
		}
	}
	return nil
}

func TestFilterSuperAdminSeesFullTree(t *testing.T) {
	p := principalWith([]string{authz.RoleSuperAdmin}, nil)
	tree := DefaultTree()
	if got := Filter(p, tree); len(got) != len(tree) {
		t.Fatalf("expected full tree, got %v", keys(got))
	}
}

func TestFilterAdminBaselineUnlocksAdminSection(t *testing.T) {
	p := principalWith([]string{authz.RoleAdmin}, nil)
	got := Filter(p, DefaultTree())

	admin := find(got, "admin")
	if admin == nil {
		t.Fatalf("expected admin section for ADMIN role, got %v", keys(got))
	}
	if len(admin.Children) != 3 {
		t.Fatalf("expected all admin children, got %v", keys(admin.Children))
	}
}

func TestFilterKeepsOnlyGrantedLeaves(t *testing.T) {
	p := principalWith([]string{"HOAT"}, []string{"oc:academics:read", "oc:pt:read"})
	got := Filter(p, DefaultTree())

	cadets := find(got, "cadets")
	if cadets == nil {
		t.Fatalf("expected cadets section, got %v", keys(got))
	}
	childKeys := keys(cadets.Children)
	if len(childKeys) != 2 || childKeys[0] != "academics" || childKeys[1] != "pt" {
		t.Fatalf("unexpected visible children: %v", childKeys)
	}
	if find(got, "admin") != nil {
		t.Fatalf("admin section should be hidden: %v", keys(got))
	}
}

func TestFilterDropsEmptySections(t *testing.T) {
	p := principalWith([]string{"CADET"}, nil)
	got := Filter(p, DefaultTree())

	if find(got, "cadets") != nil {
		t.Fatalf("section with no visible children should be dropped: %v", keys(got))
	}
	// Ungated leaf stays visible.
	if find(got, "home") == nil {
		t.Fatalf("expected home to remain: %v", keys(got))
	}
}

func TestFilterSectionGateHidesSubtree(t *testing.T) {
	// Permission for a child does not reopen a section whose own gate denies.
	p := principalWith([]string{"HOAT"}, []string{authz.ActionAuditRead.String()})
	got := Filter(p, DefaultTree())
	if find(got, "admin") != nil {
		t.Fatalf("admin section gate should hide subtree: %v", keys(got))
	}
}

func TestFilterDeniedLeafHidden(t *testing.T) {
	p := principalWith([]string{"HOAT"}, []string{"oc:academics:read"})
	p.Attrs.Denied["oc:academics:read"] = struct{}{}

	got := Filter(p, DefaultTree())
	if find(got, "cadets") != nil {
		t.Fatalf("denied permission should hide leaf and empty section: %v", keys(got))
	}
}
