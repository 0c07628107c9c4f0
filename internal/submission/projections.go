package submission

import (
	"context"
	"fmt"
	"strings"

	"mitsnews.org/internal/auth"
	"mitsnews.org/internal/ids"
)

// Get returns one submission with its owner and images. Contributors may only
// read their own submissions.
func (e *Engine) Get(ctx context.Context, session auth.Session, id string) (Detail, error) {
	if err := auth.RequireAuthenticated(session); err != nil {
		return Detail{}, err
	}
	id = strings.TrimSpace(id)
	if !ids.IsRecordID(id) {
		return Detail{}, fmt.Errorf("%w: submission %q", ErrNotFound, id)
	}
	dbctx, cancel := e.dbContext(ctx)
	defer cancel()
	d, err := e.repo.GetDetail(dbctx, id)
	if err != nil {
		return Detail{}, StoreError("get submission", err)
	}
	if err := canRead(session, d.Submission); err != nil {
		return Detail{}, err
	}
	return d, nil
}

// ListOwn returns the caller's submissions in any status, newest first.
func (e *Engine) ListOwn(ctx context.Context, session auth.Session) ([]Submission, error) {
	if err := auth.RequireCapability(session, auth.CapSubmissionReadOwn); err != nil {
		return nil, err
	}
	dbctx, cancel := e.dbContext(ctx)
	defer cancel()
	out, err := e.repo.ListByOwner(dbctx, session.UserID)
	if err != nil {
		return nil, StoreError("list own submissions", err)
	}
	return out, nil
}

// PendingQueue lists submissions awaiting review, newest first. Admin only.
func (e *Engine) PendingQueue(ctx context.Context, session auth.Session) ([]QueueItem, error) {
	return e.byStatus(ctx, session, StatusPending)
}

// ApprovedArchive lists approved submissions, newest first. Admin only.
func (e *Engine) ApprovedArchive(ctx context.Context, session auth.Session) ([]QueueItem, error) {
	return e.byStatus(ctx, session, StatusApproved)
}

func (e *Engine) byStatus(ctx context.Context, session auth.Session, status Status) ([]QueueItem, error) {
	if err := auth.RequireCapability(session, auth.CapSubmissionReadAll); err != nil {
		return nil, err
	}
	dbctx, cancel := e.dbContext(ctx)
	defer cancel()
	out, err := e.repo.ListByStatus(dbctx, status)
	if err != nil {
		return nil, StoreError("list "+string(status)+" submissions", err)
	}
	return out, nil
}

// Gallery is the public view: approved submissions with their images,
// optionally narrowed by type and a case-insensitive title substring.
func (e *Engine) Gallery(ctx context.Context, filter GalleryFilter) ([]GalleryItem, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return nil, err
	}
	dbctx, cancel := e.dbContext(ctx)
	defer cancel()
	out, err := e.repo.ListGallery(dbctx, filter)
	if err != nil {
		return nil, StoreError("gallery", err)
	}
	return out, nil
}
