package submission

import (
	"fmt"
	"strings"
	"time"
)

// Type selects whether a submission targets a department or a club.
type Type string

const (
	TypeDepartment Type = "department"
	TypeClub       Type = "club"
)

// Status is the moderation state. Pending is the only non-terminal state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseDecision accepts the two review outcomes.
func ParseDecision(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	}
	return "", fmt.Errorf("%w: decision must be approved or rejected", ErrInvalidInput)
}

// Submission is an activity report awaiting or holding a moderation decision.
type Submission struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	Type            Type       `json:"type"`
	Department      string     `json:"department,omitempty"`
	Club            string     `json:"club,omitempty"`
	Section         string     `json:"section,omitempty"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	ContributorName string     `json:"contributor_name,omitempty"`
	ActivityDate    string     `json:"activity_date"`
	Status          Status     `json:"status"`
	ReviewedBy      string     `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Reviewed reports whether a decision has been recorded.
func (s Submission) Reviewed() bool { return s.Status != StatusPending }

// Image links a stored blob to its submission.
type Image struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submission_id"`
	URL          string    `json:"image_url"`
	Name         string    `json:"image_name"`
	CreatedAt    time.Time `json:"created_at"`
}

// Owner is the optional profile joined onto admin projections. It is nil when
// the profile row is missing.
type Owner struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// QueueItem is one row of the pending queue or approved archive.
type QueueItem struct {
	Submission
	Owner      *Owner `json:"owner"`
	ImageCount int    `json:"image_count"`
}

// GalleryItem is an approved submission with its images.
type GalleryItem struct {
	Submission
	Images []Image `json:"images"`
}

// Detail is a single submission with owner and images.
type Detail struct {
	Submission
	Owner  *Owner  `json:"owner"`
	Images []Image `json:"images"`
}

// GalleryFilter narrows the public gallery.
type GalleryFilter struct {
	Type   string `json:"type"`
	Search string `json:"search"`
}

// Normalize validates the filter and maps "" to "all".
func (f GalleryFilter) Normalize() (GalleryFilter, error) {
	f.Type = strings.ToLower(strings.TrimSpace(f.Type))
	f.Search = strings.TrimSpace(f.Search)
	switch f.Type {
	case "", "all":
		f.Type = "all"
	case string(TypeDepartment), string(TypeClub):
	default:
		return GalleryFilter{}, fmt.Errorf("%w: type must be all, department or club", ErrInvalidInput)
	}
	return f, nil
}

// CreateRequest carries the author-supplied fields of a new submission.
type CreateRequest struct {
	Type            Type   `json:"type" validate:"required,oneof=department club"`
	Department      string `json:"department" validate:"required_if=Type department,excluded_if=Type club"`
	Club            string `json:"club" validate:"required_if=Type club,excluded_if=Type department"`
	Section         string `json:"section" validate:"excluded_if=Type club"`
	Title           string `json:"title" validate:"required,max=300,maxwords=20"`
	Description     string `json:"description" validate:"required,maxwords=250"`
	ContributorName string `json:"contributor_name" validate:"required_if=Type club,max=200"`
	ActivityDate    string `json:"activity_date" validate:"required,datetime=2006-01-02"`
}
