package qrsession

import "testing"

func TestDetermineRole(t *testing.T) {
	tests := []struct {
		name        string
		granted     []string
		sessionType string
		selected    string
		loginMode   string
		want        string
	}{
		{"multi selected and granted", []string{"parent", "volunteer"}, "multi", "volunteer", "", "volunteer"},
		{"multi selected not granted", []string{"parent"}, "multi", "admin", "", "parent"},
		{"multi no selection picks highest", []string{"parent", "social_worker"}, "multi", "", "", "social_worker"},
		{"multi nothing granted", nil, "multi", "", "", ""},
		{"typed and granted", []string{"parent", "volunteer"}, "volunteer", "", "", "volunteer"},
		{"typed not granted falls back", []string{"parent"}, "admin", "", "", "parent"},
		{"typed not granted guest mode", nil, "admin", "", "guest", "guest"},
		{"nothing usable", nil, "admin", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetermineRole(tt.granted, tt.sessionType, tt.selected, tt.loginMode)
			if got != tt.want {
				t.Errorf("DetermineRole = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidSessionType(t *testing.T) {
	for _, valid := range []string{"multi", "admin", "parent", "guest"} {
		if !ValidSessionType(valid) {
			t.Errorf("ValidSessionType(%q) = false", valid)
		}
	}
	for _, invalid := range []string{"", "root", "superuser"} {
		if ValidSessionType(invalid) {
			t.Errorf("ValidSessionType(%q) = true", invalid)
		}
	}
}

func TestRedirectPath(t *testing.T) {
	if got := RedirectPath("parent"); got != "/children" {
		t.Errorf("RedirectPath(parent) = %q", got)
	}
	if got := RedirectPath("unknown"); got != "/dashboard" {
		t.Errorf("RedirectPath(unknown) = %q", got)
	}
}
