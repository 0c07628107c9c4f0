package auth

import (
	"fmt"
	"slices"
)

// Session is the authenticated actor passed explicitly into every core operation.
// The zero value is an anonymous caller.
type Session struct {
	UserID   string
	Role     Role
	Email    string
	FullName string
}

// NewSession builds a session from a stored profile.
func NewSession(p Profile) Session {
	return Session{UserID: p.ID, Role: p.Role, Email: p.Email, FullName: p.FullName}
}

// Authenticated reports whether the session carries a user.
func (s Session) Authenticated() bool { return s.UserID != "" }

// IsAdmin reports whether the session holds the admin role.
func (s Session) IsAdmin() bool { return s.Authenticated() && s.Role == RoleAdmin }

// Can reports whether the session may exercise capability c.
func (s Session) Can(c Capability) bool {
	if !s.Authenticated() {
		return false
	}
	return slices.Contains(roleCapabilities[s.Role], c)
}

// RequireAuthenticated fails with ErrUnauthenticated for anonymous sessions.
func RequireAuthenticated(s Session) error {
	if !s.Authenticated() {
		return ErrUnauthenticated
	}
	return nil
}

// RequireCapability checks authentication first, then the capability.
func RequireCapability(s Session, c Capability) error {
	if err := RequireAuthenticated(s); err != nil {
		return err
	}
	if !s.Can(c) {
		return fmt.Errorf("%w: %s requires %s", ErrForbidden, s.Role, c)
	}
	return nil
}

// RequireOwner allows only the user identified by ownerID.
func RequireOwner(s Session, ownerID string) error {
	if err := RequireAuthenticated(s); err != nil {
		return err
	}
	if s.UserID != ownerID {
		return fmt.Errorf("%w: not the owner", ErrForbidden)
	}
	return nil
}
