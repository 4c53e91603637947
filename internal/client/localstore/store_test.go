package localstore

import (
	"path/filepath"
	"testing"

	xerrors "qrlogin-service/internal/pkg/errors"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "store.json"))

	if err := s.SetJSON(KeyUserRoles, []string{"parent", "volunteer"}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	if err := s.SetJSON(KeySelectedRole, "parent"); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var roles []string
	if err := s.GetJSON(KeyUserRoles, &roles); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if len(roles) != 2 || roles[0] != "parent" {
		t.Errorf("roles = %v", roles)
	}

	var selected string
	if err := s.GetJSON(KeySelectedRole, &selected); err != nil || selected != "parent" {
		t.Errorf("selected = %q, %v", selected, err)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "store.json"))
	var out string
	if err := s.GetJSON("nope", &out); !xerrors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "store.json"))

	if err := s.SetJSON(KeySelectedRole, "parent"); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	if err := s.Delete(KeySelectedRole); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var out string
	if err := s.GetJSON(KeySelectedRole, &out); !xerrors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	if err := New(path).SetJSON(KeySelectedRole, "volunteer"); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var out string
	if err := New(path).GetJSON(KeySelectedRole, &out); err != nil || out != "volunteer" {
		t.Errorf("out = %q, %v", out, err)
	}
}
