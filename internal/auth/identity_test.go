package auth

import (
	"errors"
	"testing"
)

func TestRequireSignedOut(t *testing.T) {
	s := NewSession()
	if _, err := Require(s); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("err = %v, want ErrNoIdentity", err)
	}
	if _, err := Require(nil); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("nil provider err = %v, want ErrNoIdentity", err)
	}
}

func TestSessionSignInOut(t *testing.T) {
	s := NewSession()
	s.SignIn(Identity{UserID: "u1", DisplayName: "Alice"})

	id, err := Require(s)
	if err != nil {
		t.Fatalf("require: %v", err)
	}
	if id.UserID != "u1" {
		t.Errorf("user id = %q, want %q", id.UserID, "u1")
	}

	s.SignOut()
	if _, ok := s.CurrentUser(); ok {
		t.Error("expected signed out")
	}
}

func TestRequireEmptyUserID(t *testing.T) {
	s := NewSession()
	s.SignIn(Identity{DisplayName: "nobody"})
	if _, err := Require(s); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("err = %v, want ErrNoIdentity", err)
	}
}
