package submission

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"mitsnews.org/internal/auth"
)

// InMemory implements Repository with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	subs     map[string]Submission
	order    []string
	images   map[string]Image
	imgOrder []string
	byURL    map[string]string
	staged   map[string]string
	profiles auth.ProfileStore
}

// NewInMemory creates an empty repository. profiles backs the owner join and may
// be nil, in which case every owner is absent.
func NewInMemory(profiles auth.ProfileStore) *InMemory {
	return &InMemory{
		subs:     make(map[string]Submission),
		images:   make(map[string]Image),
		byURL:    make(map[string]string),
		staged:   make(map[string]string),
		profiles: profiles,
	}
}

func (m *InMemory) CreateSubmission(_ context.Context, s Submission) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.subs[s.ID]; exists {
		return Submission{}, fmt.Errorf("%w: duplicate submission id", ErrInvalidInput)
	}
	m.subs[s.ID] = s
	m.order = append(m.order, s.ID)
	return s, nil
}

func (m *InMemory) GetSubmission(_ context.Context, id string) (Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return Submission{}, ErrNotFound
	}
	return s, nil
}

func (m *InMemory) GetDetail(ctx context.Context, id string) (Detail, error) {
	m.mu.RLock()
	s, ok := m.subs[id]
	var imgs []Image
	if ok {
		imgs = m.imagesFor(id)
	}
	m.mu.RUnlock()
	if !ok {
		return Detail{}, ErrNotFound
	}
	return Detail{Submission: s, Owner: m.owner(ctx, s.OwnerID), Images: imgs}, nil
}

func (m *InMemory) SetReview(_ context.Context, id string, status Status, reviewerID string, at time.Time) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return Submission{}, ErrNotFound
	}
	reviewedAt := at
	s.Status = status
	s.ReviewedBy = reviewerID
	s.ReviewedAt = &reviewedAt
	s.UpdatedAt = at
	m.subs[id] = s
	return s, nil
}

func (m *InMemory) ListByOwner(_ context.Context, ownerID string) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Submission
	for _, s := range m.newestFirst() {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *InMemory) ListByStatus(ctx context.Context, status Status) ([]QueueItem, error) {
	m.mu.RLock()
	var out []QueueItem
	for _, s := range m.newestFirst() {
		if s.Status == status {
			out = append(out, QueueItem{Submission: s, ImageCount: len(m.imagesFor(s.ID))})
		}
	}
	m.mu.RUnlock()
	for i := range out {
		out[i].Owner = m.owner(ctx, out[i].OwnerID)
	}
	return out, nil
}

func (m *InMemory) ListGallery(_ context.Context, filter GalleryFilter) ([]GalleryItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	search := strings.ToLower(filter.Search)
	var out []GalleryItem
	for _, s := range m.newestFirst() {
		if s.Status != StatusApproved {
			continue
		}
		if filter.Type != "" && filter.Type != "all" && string(s.Type) != filter.Type {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(s.Title), search) {
			continue
		}
		out = append(out, GalleryItem{Submission: s, Images: m.imagesFor(s.ID)})
	}
	return out, nil
}

func (m *InMemory) InsertImages(_ context.Context, submissionID string, images []Image) ([]Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[submissionID]
	if !ok {
		return nil, ErrNotFound
	}
	if sub.Status == StatusApproved || sub.Status == StatusRejected {
		return nil, fmt.Errorf("%w: submission is %s", ErrInvalidInput, sub.Status)
	}
	seen := make(map[string]struct{}, len(images))
	for _, img := range images {
		if _, dup := m.byURL[img.URL]; dup {
			return nil, fmt.Errorf("%w: image already bound: %s", ErrInvalidInput, img.URL)
		}
		if _, dup := seen[img.URL]; dup {
			return nil, fmt.Errorf("%w: image listed twice: %s", ErrInvalidInput, img.URL)
		}
		if owner, ok := m.staged[img.URL]; !ok || owner != sub.OwnerID {
			return nil, fmt.Errorf("%w: %s is not a staged upload", ErrInvalidInput, img.URL)
		}
		seen[img.URL] = struct{}{}
	}
	out := make([]Image, 0, len(images))
	for _, img := range images {
		delete(m.staged, img.URL)
		img.SubmissionID = submissionID
		m.images[img.ID] = img
		m.imgOrder = append(m.imgOrder, img.ID)
		m.byURL[img.URL] = img.ID
		out = append(out, img)
	}
	return out, nil
}

func (m *InMemory) StageUpload(_ context.Context, ownerID, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.staged[url]; !ok {
		m.staged[url] = ownerID
	}
	return nil
}

func (m *InMemory) ReleaseUploads(_ context.Context, urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range urls {
		delete(m.staged, u)
	}
	return nil
}

func (m *InMemory) GetImage(_ context.Context, id string) (Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	if !ok {
		return Image{}, ErrNotFound
	}
	return img, nil
}

func (m *InMemory) ImageByURL(_ context.Context, url string) (Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byURL[url]
	if !ok {
		return Image{}, ErrNotFound
	}
	return m.images[id], nil
}

func (m *InMemory) DeleteImage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return nil
	}
	delete(m.images, id)
	delete(m.byURL, img.URL)
	for i, v := range m.imgOrder {
		if v == id {
			m.imgOrder = append(m.imgOrder[:i], m.imgOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (m *InMemory) BoundURLs(_ context.Context, urls []string) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]struct{})
	for _, u := range urls {
		if _, ok := m.byURL[u]; ok {
			out[u] = struct{}{}
		}
	}
	return out, nil
}

// newestFirst returns submissions by created_at descending; ties keep the
// most recent insertion first. Callers hold the lock.
func (m *InMemory) newestFirst() []Submission {
	out := make([]Submission, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.subs[m.order[i]])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// imagesFor returns the images of a submission in insertion order. Callers hold the lock.
func (m *InMemory) imagesFor(submissionID string) []Image {
	out := []Image{}
	for _, id := range m.imgOrder {
		if img := m.images[id]; img.SubmissionID == submissionID {
			out = append(out, img)
		}
	}
	return out
}

func (m *InMemory) owner(ctx context.Context, ownerID string) *Owner {
	if m.profiles == nil {
		return nil
	}
	p, err := m.profiles.GetProfile(ctx, ownerID)
	if err != nil {
		return nil
	}
	return &Owner{FullName: p.FullName, Email: p.Email}
}
