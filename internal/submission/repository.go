package submission

import (
	"context"
	"time"
)

// Repository is the relational store behind the engine and the asset manager.
// Implementations report missing rows as ErrNotFound and uniqueness violations
// as ErrInvalidInput.
type Repository interface {
	CreateSubmission(ctx context.Context, s Submission) (Submission, error)
	GetSubmission(ctx context.Context, id string) (Submission, error)
	GetDetail(ctx context.Context, id string) (Detail, error)
	// SetReview writes status, reviewer and review time in one statement.
	SetReview(ctx context.Context, id string, status Status, reviewerID string, at time.Time) (Submission, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Submission, error)
	ListByStatus(ctx context.Context, status Status) ([]QueueItem, error)
	ListGallery(ctx context.Context, filter GalleryFilter) ([]GalleryItem, error)

	// StageUpload records the owner's claim on a freshly staged blob url.
	StageUpload(ctx context.Context, ownerID, url string) error
	// ReleaseUploads drops the claims on urls. Once it returns no InsertImages
	// can bind them, and any insert that already took a claim has finished.
	ReleaseUploads(ctx context.Context, urls []string) error
	// InsertImages stores all rows or none, consuming the submission owner's
	// claim on every url. A reviewed submission or an unclaimed url is refused
	// with ErrInvalidInput.
	InsertImages(ctx context.Context, submissionID string, images []Image) ([]Image, error)
	GetImage(ctx context.Context, id string) (Image, error)
	ImageByURL(ctx context.Context, url string) (Image, error)
	// DeleteImage is a no-op when the row is absent.
	DeleteImage(ctx context.Context, id string) error
	// BoundURLs returns the subset of urls referenced by an image row.
	BoundURLs(ctx context.Context, urls []string) (map[string]struct{}, error)
}
