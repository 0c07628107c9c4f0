package auth

import (
	"context"
	"errors"
	"testing"
)

func TestSessionCapabilities(t *testing.T) {
	contributor := Session{UserID: "u1", Role: RoleContributor}
	admin := Session{UserID: "a1", Role: RoleAdmin}

	if !contributor.Can(CapSubmissionCreate) || !contributor.Can(CapImageManageOwn) {
		t.Fatalf("contributor should create and manage own images")
	}
	if contributor.Can(CapSubmissionReview) || contributor.Can(CapSubmissionReadAll) {
		t.Fatalf("contributor must not review or read all")
	}
	if !admin.Can(CapSubmissionReview) || !admin.Can(CapSubmissionReadAll) {
		t.Fatalf("admin should review and read all")
	}
	if (Session{Role: RoleAdmin}).Can(CapSubmissionReview) {
		t.Fatalf("anonymous session must not hold capabilities")
	}
}

func TestRequireHelpers(t *testing.T) {
	if err := RequireCapability(Session{}, CapSubmissionCreate); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if err := RequireCapability(Session{UserID: "u1", Role: RoleContributor}, CapSubmissionReview); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := RequireOwner(Session{UserID: "u1"}, "u2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-owner, got %v", err)
	}
	if err := RequireOwner(Session{UserID: "u1"}, "u1"); err != nil {
		t.Fatalf("owner rejected: %v", err)
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole(" Admin "); err != nil || r != RoleAdmin {
		t.Fatalf("ParseRole admin: %v %v", r, err)
	}
	if _, err := ParseRole("root"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSessionContext(t *testing.T) {
	ctx := ContextWithSession(context.Background(), Session{UserID: "u1", Role: RoleAdmin})
	if s := SessionFromContext(ctx); s.UserID != "u1" || !s.IsAdmin() {
		t.Fatalf("unexpected session %+v", s)
	}
	if s := SessionFromContext(context.Background()); s.Authenticated() {
		t.Fatalf("expected anonymous session")
	}
}
