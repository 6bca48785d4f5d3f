package rbac

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role, perm string
		want       bool
	}{
		{RoleAdmin, PermRollback, true},
		{RoleAuditor, PermViewAudit, true},
		{RoleAuditor, PermRollback, false},
		{RoleEditor, PermViewAudit, false},
		{RoleEditor, PermWriteEntities, true},
		{"unknown", PermViewEntities, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestAnyHasPermission(t *testing.T) {
	if !AnyHasPermission([]string{RoleEditor, RoleAuditor}, PermViewAudit) {
		t.Error("auditor role should grant view_audit")
	}
	if AnyHasPermission(nil, PermViewAudit) {
		t.Error("no roles should grant nothing")
	}
}
