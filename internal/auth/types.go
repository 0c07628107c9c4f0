package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is the single authorization attribute carried by a profile.
type Role string

const (
	RoleContributor Role = "contributor"
	RoleAdmin       Role = "admin"
)

// ParseRole normalises s into a known role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleContributor:
		return RoleContributor, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
}

// Profile is the locally stored user record created on first authentication.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Identity is what the identity provider asserts about a user.
type Identity struct {
	UserID   string
	Email    string
	FullName string
}
