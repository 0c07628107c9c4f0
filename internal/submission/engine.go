// Package submission holds the moderation engine: creating submissions,
// applying review decisions and building the read projections over them.
package submission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mitsnews.org/internal/audit"
	"mitsnews.org/internal/auth"
	"mitsnews.org/internal/ids"
	"mitsnews.org/internal/obs"
	"mitsnews.org/internal/stream"
)

// Publisher receives moderation events.
type Publisher interface {
	Publish(stream.Event)
}

// Engine enforces the status state machine and the authorization policy on
// top of a Repository.
type Engine struct {
	repo      Repository
	events    Publisher
	now       func() time.Time
	dbTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDBTimeout bounds each repository call.
func WithDBTimeout(d time.Duration) Option {
	return func(e *Engine) { e.dbTimeout = d }
}

// WithPublisher sends create and review events to p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// NewEngine builds an engine over repo.
func NewEngine(repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:      repo,
		now:       func() time.Time { return time.Now().UTC() },
		dbTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Repository exposes the underlying store to collaborators such as the asset manager.
func (e *Engine) Repository() Repository { return e.repo }

// Create validates req and stores a pending submission owned by the session user.
func (e *Engine) Create(ctx context.Context, session auth.Session, req CreateRequest) (Submission, error) {
	if err := auth.RequireCapability(session, auth.CapSubmissionCreate); err != nil {
		return Submission{}, err
	}
	req, err := req.normalize()
	if err != nil {
		return Submission{}, err
	}

	now := e.now()
	s := Submission{
		ID:              ids.NewRecordID(),
		OwnerID:         session.UserID,
		Type:            req.Type,
		Department:      req.Department,
		Club:            req.Club,
		Section:         req.Section,
		Title:           req.Title,
		Description:     req.Description,
		ContributorName: req.ContributorName,
		ActivityDate:    req.ActivityDate,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	dbctx, cancel := e.dbContext(ctx)
	defer cancel()
	created, err := e.repo.CreateSubmission(dbctx, s)
	if err != nil {
		return Submission{}, StoreError("create submission", err)
	}

	obs.ObserveSubmissionCreated()
	_ = audit.LogEvent(ctx, session, "submission.create", map[string]any{
		"submission_id": created.ID,
		"type":          string(created.Type),
	})
	e.publish(stream.Event{
		Kind:         stream.KindSubmitted,
		SubmissionID: created.ID,
		Status:       string(created.Status),
		ActorID:      session.UserID,
		Title:        created.Title,
		Timestamp:    now,
	})
	return created, nil
}

// Review applies an admin decision. A reviewed submission may be reviewed
// again; the latest decision overwrites status, reviewer and review time.
func (e *Engine) Review(ctx context.Context, session auth.Session, id string, decision Status) (Submission, error) {
	if err := auth.RequireCapability(session, auth.CapSubmissionReview); err != nil {
		return Submission{}, err
	}
	decision, err := ParseDecision(string(decision))
	if err != nil {
		return Submission{}, err
	}
	id = strings.TrimSpace(id)
	if !ids.IsRecordID(id) {
		return Submission{}, fmt.Errorf("%w: submission %q", ErrNotFound, id)
	}

	now := e.now()
	dbctx, cancel := e.dbContext(ctx)
	defer cancel()
	updated, err := e.repo.SetReview(dbctx, id, decision, session.UserID, now)
	if err != nil {
		return Submission{}, StoreError("review submission", err)
	}

	obs.ObserveReview(string(decision))
	_ = audit.LogEvent(ctx, session, "submission.review", map[string]any{
		"submission_id": id,
		"decision":      string(decision),
	})
	e.publish(stream.Event{
		Kind:         stream.KindReviewed,
		SubmissionID: id,
		Status:       string(decision),
		ActorID:      session.UserID,
		Title:        updated.Title,
		Timestamp:    now,
	})
	return updated, nil
}

// Publish forwards an event raised by a collaborator of the engine.
func (e *Engine) Publish(evt stream.Event) { e.publish(evt) }

func (e *Engine) publish(evt stream.Event) {
	if e.events != nil {
		e.events.Publish(evt)
	}
}

func (e *Engine) dbContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.dbTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.dbTimeout)
}

// canRead reports whether session may see s.
func canRead(session auth.Session, s Submission) error {
	if err := auth.RequireAuthenticated(session); err != nil {
		return err
	}
	if session.Can(auth.CapSubmissionReadAll) {
		return nil
	}
	if err := auth.RequireCapability(session, auth.CapSubmissionReadOwn); err != nil {
		return err
	}
	return auth.RequireOwner(session, s.OwnerID)
}
