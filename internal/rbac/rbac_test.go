package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "viewer read", role: RoleViewer, action: ActionRead, allow: true},
		{name: "viewer write", role: RoleViewer, action: ActionWrite, allow: false},
		{name: "viewer analyze", role: RoleViewer, action: ActionAnalyze, allow: false},
		{name: "editor read", role: RoleEditor, action: ActionRead, allow: true},
		{name: "editor write", role: RoleEditor, action: ActionWrite, allow: true},
		{name: "editor analyze", role: RoleEditor, action: ActionAnalyze, allow: true},
		{name: "unknown role", role: Role("owner"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("editor"); got != RoleEditor {
		t.Fatalf("Normalize(editor) = %q", got)
	}
	if got := Normalize("admin"); got != RoleViewer {
		t.Fatalf("Normalize(admin) = %q, want viewer", got)
	}
}
