package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ProfileStore persists user profiles.
type ProfileStore interface {
	// EnsureProfile creates the profile on first sight and refreshes email and
	// name afterwards. The role of an existing profile is never touched.
	EnsureProfile(ctx context.Context, id Identity) (Profile, error)
	GetProfile(ctx context.Context, userID string) (Profile, error)
	SetRole(ctx context.Context, userID string, role Role) (Profile, error)
}

// MemoryProfiles is an in-process ProfileStore for tests and local runs.
type MemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	now      func() time.Time
}

// NewMemoryProfiles returns an empty store.
func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{
		profiles: make(map[string]Profile),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryProfiles) EnsureProfile(_ context.Context, id Identity) (Profile, error) {
	userID := strings.TrimSpace(id.UserID)
	if userID == "" {
		return Profile{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	p, ok := m.profiles[userID]
	if !ok {
		p = Profile{ID: userID, Role: RoleContributor, CreatedAt: now}
	}
	if id.Email != "" {
		p.Email = id.Email
	}
	if id.FullName != "" {
		p.FullName = id.FullName
	}
	p.UpdatedAt = now
	m.profiles[userID] = p
	return p, nil
}

func (m *MemoryProfiles) GetProfile(_ context.Context, userID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryProfiles) SetRole(_ context.Context, userID string, role Role) (Profile, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return Profile{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	p.Role = role
	p.UpdatedAt = m.now()
	m.profiles[userID] = p
	return p, nil
}
