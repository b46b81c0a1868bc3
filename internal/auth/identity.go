// Package auth provides the signed-in identity the repositories act for.
package auth

import (
	"errors"
	"sync"
)

// ErrNoIdentity is returned when an operation needs a signed-in user and there is none.
var ErrNoIdentity = errors.New("no signed-in user")

// Identity is the profile reported by the identity provider.
type Identity struct {
	UserID      string
	DisplayName string
	Email       string
	PhotoURL    string
}

// Provider reports the current user. Being signed out is a valid state.
type Provider interface {
	CurrentUser() (Identity, bool)
}

// Require returns the current identity or ErrNoIdentity.
func Require(p Provider) (Identity, error) {
	if p == nil {
		return Identity{}, ErrNoIdentity
	}
	id, ok := p.CurrentUser()
	if !ok || id.UserID == "" {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

// Session is a Provider whose identity is set by sign-in and cleared by sign-out.
type Session struct {
	mu       sync.RWMutex
	identity *Identity
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) SignIn(id Identity) {
	s.mu.Lock()
	s.identity = &id
	s.mu.Unlock()
}

func (s *Session) SignOut() {
	s.mu.Lock()
	s.identity = nil
	s.mu.Unlock()
}

func (s *Session) CurrentUser() (Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}
