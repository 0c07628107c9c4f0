// Package assets couples uploaded image blobs to submissions. Uploads are
// staged under the uploader's prefix, then bound to a pending submission in
// one transaction. Staged blobs nobody binds are reclaimed by Sweep.
package assets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"mitsnews.org/internal/audit"
	"mitsnews.org/internal/auth"
	"mitsnews.org/internal/blob"
	"mitsnews.org/internal/ids"
	"mitsnews.org/internal/obs"
	"mitsnews.org/internal/stream"
	"mitsnews.org/internal/submission"
)

// StagingRoot is the key prefix of every staged upload.
const StagingRoot = "uploads/"

// StagingPrefix is the key prefix reserved for one user's uploads. Distinct
// user ids always yield distinct prefixes.
func StagingPrefix(userID string) string {
	return StagingRoot + base64.RawURLEncoding.EncodeToString([]byte(userID)) + "/"
}

// Upload is one file handed to Stage.
type Upload struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// Ref points at a staged blob. Clients send it back to Bind or Remove.
type Ref struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Outcome is the independent result of one upload in a batch.
type Outcome struct {
	Name string
	Ref  *Ref
	Err  error
}

// Publisher receives image change events.
type Publisher interface {
	Publish(stream.Event)
}

// Manager implements stage, bind, remove and sweep.
type Manager struct {
	store         blob.Store
	repo          submission.Repository
	events        Publisher
	maxBytes      int64
	parallelism   int
	blobTimeout   time.Duration
	dbTimeout     time.Duration
	retries       uint
	retryInterval time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

func WithMaxUploadBytes(n int64) Option { return func(m *Manager) { m.maxBytes = n } }
func WithParallelism(n int) Option { return func(m *Manager) { m.parallelism = n } }
func WithBlobTimeout(d time.Duration) Option { return func(m *Manager) { m.blobTimeout = d } }
func WithDBTimeout(d time.Duration) Option { return func(m *Manager) { m.dbTimeout = d } }
func WithPublisher(p Publisher) Option { return func(m *Manager) { m.events = p } }

// WithRetries sets how many times a storage call is attempted, and the first
// backoff interval between attempts.
func WithRetries(tries uint, interval time.Duration) Option {
	return func(m *Manager) {
		m.retries = tries
		m.retryInterval = interval
	}
}

// NewManager builds a manager over store and repo.
func NewManager(store blob.Store, repo submission.Repository, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		repo:          repo,
		maxBytes:      10 << 20,
		parallelism:   4,
		blobTimeout:   20 * time.Second,
		dbTimeout:     5 * time.Second,
		retries:       3,
		retryInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.parallelism < 1 {
		m.parallelism = 1
	}
	if m.retries < 1 {
		m.retries = 1
	}
	return m
}

// Stage validates and stores one image under the caller's staging prefix.
func (m *Manager) Stage(ctx context.Context, session auth.Session, up Upload) (Ref, error) {
	if err := auth.RequireCapability(session, auth.CapImageManageOwn); err != nil {
		return Ref{}, err
	}
	ref, err := m.stage(ctx, session, up)
	switch {
	case err == nil:
		obs.ObserveUpload("stored")
	case errors.Is(err, submission.ErrStorage):
		obs.ObserveUpload("failed")
	default:
		obs.ObserveUpload("rejected")
	}
	return ref, err
}

func (m *Manager) stage(ctx context.Context, session auth.Session, up Upload) (Ref, error) {
	name := strings.TrimSpace(up.Name)
	if name == "" {
		name = "image"
	}
	if up.Open == nil {
		return Ref{}, fmt.Errorf("%w: %s: no content", submission.ErrInvalidInput, name)
	}
	rc, err := up.Open()
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %s: open: %v", submission.ErrInvalidInput, name, err)
	}
	data, err := io.ReadAll(io.LimitReader(rc, m.maxBytes+1))
	rc.Close()
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %s: read: %v", submission.ErrInvalidInput, name, err)
	}
	if len(data) == 0 {
		return Ref{}, fmt.Errorf("%w: %s is empty", submission.ErrInvalidInput, name)
	}
	if int64(len(data)) > m.maxBytes {
		return Ref{}, fmt.Errorf("%w: %s exceeds %d bytes", submission.ErrInvalidInput, name, m.maxBytes)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return Ref{}, fmt.Errorf("%w: %s is not an image (%s)", submission.ErrInvalidInput, name, mt.String())
	}

	key := ids.StorageKey(StagingPrefix(session.UserID), name)
	url, err := m.put(ctx, key, data, mt.String())
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %s: %v", submission.ErrStorage, name, err)
	}
	dbctx, cancel := m.dbContext(ctx)
	err = m.repo.StageUpload(dbctx, session.UserID, url)
	cancel()
	if err != nil {
		if derr := m.delete(ctx, key); derr != nil {
			obs.Warn("staged_blob_orphaned", map[string]any{"key": key, "error": derr.Error()})
		}
		return Ref{}, fmt.Errorf("%w: %s: record upload: %v", submission.ErrStorage, name, err)
	}
	return Ref{Key: key, URL: url, Name: path.Base(strings.ReplaceAll(name, `\`, "/")), ContentType: mt.String(), Size: int64(len(data))}, nil
}

// StageBatch stages uploads concurrently. Each outcome is independent; a
// failed file never aborts its siblings. Outcomes keep the input order.
func (m *Manager) StageBatch(ctx context.Context, session auth.Session, uploads []Upload) []Outcome {
	out := make([]Outcome, len(uploads))
	var g errgroup.Group
	g.SetLimit(m.parallelism)
	for i, up := range uploads {
		g.Go(func() error {
			ref, err := m.Stage(ctx, session, up)
			out[i] = Outcome{Name: up.Name, Err: err}
			if err == nil {
				out[i].Ref = &ref
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Bind attaches staged blobs to a pending submission owned by the caller. All
// rows are inserted or none are; on failure the staged blobs stay in place.
// The insert consumes each blob's staging claim, so a blob released by Remove
// or Sweep can never be bound.
func (m *Manager) Bind(ctx context.Context, session auth.Session, submissionID string, refs []Ref) ([]submission.Image, error) {
	if err := auth.RequireCapability(session, auth.CapImageManageOwn); err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no images to bind", submission.ErrInvalidInput)
	}
	sub, err := m.mutableSubmission(ctx, session, submissionID)
	if err != nil {
		return nil, err
	}

	prefix := StagingPrefix(session.UserID)
	images := make([]submission.Image, 0, len(refs))
	now := time.Now().UTC()
	for _, ref := range refs {
		key, err := m.refKey(ref)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(key, prefix) {
			return nil, fmt.Errorf("%w: %s was not staged by the caller", auth.ErrForbidden, key)
		}
		ok, err := m.exists(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("%w: check %s: %v", submission.ErrStorage, key, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a staged upload", submission.ErrInvalidInput, key)
		}
		name := strings.TrimSpace(ref.Name)
		if name == "" {
			name = path.Base(key)
		}
		images = append(images, submission.Image{
			ID:           ids.NewRecordID(),
			SubmissionID: sub.ID,
			URL:          m.store.URL(key),
			Name:         name,
			CreatedAt:    now,
		})
	}

	dbctx, cancel := m.dbContext(ctx)
	defer cancel()
	bound, err := m.repo.InsertImages(dbctx, sub.ID, images)
	if err != nil {
		return nil, submission.StoreError("bind images", err)
	}

	_ = audit.LogEvent(ctx, session, "submission.images.bind", map[string]any{
		"submission_id": sub.ID,
		"count":         len(bound),
	})
	m.publish(sub.ID, session.UserID)
	return bound, nil
}

// Remove deletes a staged or bound blob, then its association row if any.
// Calling it again for the same ref is a no-op.
func (m *Manager) Remove(ctx context.Context, session auth.Session, ref Ref) error {
	if err := auth.RequireCapability(session, auth.CapImageManageOwn); err != nil {
		return err
	}
	key, err := m.refKey(ref)
	if err != nil {
		return err
	}

	url := m.store.URL(key)
	img, err := m.imageByURL(ctx, url)
	switch {
	case errors.Is(err, submission.ErrNotFound):
	case err != nil:
		return submission.StoreError("find image", err)
	default:
		return m.removeBound(ctx, session, img, key)
	}

	if !strings.HasPrefix(key, StagingPrefix(session.UserID)) {
		return fmt.Errorf("%w: %s was not staged by the caller", auth.ErrForbidden, key)
	}
	dbctx, cancel := m.dbContext(ctx)
	err = m.repo.ReleaseUploads(dbctx, []string{url})
	cancel()
	if err != nil {
		return submission.StoreError("release upload", err)
	}
	// A bind may have taken the claim before the release.
	img, err = m.imageByURL(ctx, url)
	switch {
	case errors.Is(err, submission.ErrNotFound):
	case err != nil:
		return submission.StoreError("find image", err)
	default:
		return m.removeBound(ctx, session, img, key)
	}
	if err := m.delete(ctx, key); err != nil {
		return fmt.Errorf("%w: delete %s: %v", submission.ErrStorage, key, err)
	}
	_ = audit.LogEvent(ctx, session, "upload.remove", map[string]any{"key": key})
	return nil
}

func (m *Manager) imageByURL(ctx context.Context, url string) (submission.Image, error) {
	dbctx, cancel := m.dbContext(ctx)
	defer cancel()
	return m.repo.ImageByURL(dbctx, url)
}

// RemoveImage deletes a bound image by id: blob first, then row. A missing or
// malformed id is treated as already removed.
func (m *Manager) RemoveImage(ctx context.Context, session auth.Session, imageID string) error {
	if err := auth.RequireCapability(session, auth.CapImageManageOwn); err != nil {
		return err
	}
	imageID = strings.TrimSpace(imageID)
	if !ids.IsRecordID(imageID) {
		return nil
	}
	dbctx, cancel := m.dbContext(ctx)
	img, err := m.repo.GetImage(dbctx, imageID)
	cancel()
	if errors.Is(err, submission.ErrNotFound) {
		return nil
	}
	if err != nil {
		return submission.StoreError("get image", err)
	}
	key, _ := m.store.KeyFromURL(img.URL)
	return m.removeBound(ctx, session, img, key)
}

func (m *Manager) removeBound(ctx context.Context, session auth.Session, img submission.Image, key string) error {
	if _, err := m.mutableSubmission(ctx, session, img.SubmissionID); err != nil {
		return err
	}
	if key != "" {
		if err := m.delete(ctx, key); err != nil {
			return fmt.Errorf("%w: delete %s: %v", submission.ErrStorage, key, err)
		}
	} else {
		obs.Warn("image_url_not_in_store", map[string]any{"image_id": img.ID, "url": img.URL})
	}
	dbctx, cancel := m.dbContext(ctx)
	defer cancel()
	if err := m.repo.DeleteImage(dbctx, img.ID); err != nil {
		return submission.StoreError("delete image", err)
	}
	_ = audit.LogEvent(ctx, session, "submission.images.remove", map[string]any{
		"submission_id": img.SubmissionID,
		"image_id":      img.ID,
	})
	m.publish(img.SubmissionID, session.UserID)
	return nil
}

// mutableSubmission loads a submission whose image set the caller may change:
// it must exist, belong to the caller and still be pending.
func (m *Manager) mutableSubmission(ctx context.Context, session auth.Session, id string) (submission.Submission, error) {
	id = strings.TrimSpace(id)
	if !ids.IsRecordID(id) {
		return submission.Submission{}, fmt.Errorf("%w: submission %q", submission.ErrNotFound, id)
	}
	dbctx, cancel := m.dbContext(ctx)
	defer cancel()
	sub, err := m.repo.GetSubmission(dbctx, id)
	if err != nil {
		return submission.Submission{}, submission.StoreError("get submission", err)
	}
	if err := auth.RequireOwner(session, sub.OwnerID); err != nil {
		return submission.Submission{}, err
	}
	if sub.Reviewed() {
		return submission.Submission{}, fmt.Errorf("%w: submission already %s", auth.ErrForbidden, sub.Status)
	}
	return sub, nil
}

func (m *Manager) refKey(ref Ref) (string, error) {
	raw := strings.TrimSpace(ref.Key)
	if raw == "" && ref.URL != "" {
		key, ok := m.store.KeyFromURL(strings.TrimSpace(ref.URL))
		if !ok {
			return "", fmt.Errorf("%w: url %q is not served by this store", submission.ErrInvalidInput, ref.URL)
		}
		raw = key
	}
	key, err := blob.CleanKey(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", submission.ErrInvalidInput, err)
	}
	return key, nil
}

func (m *Manager) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return retry(ctx, m, func(cctx context.Context) (string, error) {
		return m.store.Put(cctx, key, data, contentType)
	})
}

func (m *Manager) delete(ctx context.Context, key string) error {
	_, err := retry(ctx, m, func(cctx context.Context) (struct{}, error) {
		return struct{}{}, m.store.Delete(cctx, key)
	})
	return err
}

func (m *Manager) exists(ctx context.Context, key string) (bool, error) {
	return retry(ctx, m, func(cctx context.Context) (bool, error) {
		return m.store.Exists(cctx, key)
	})
}

// retry runs op with a per-attempt timeout and exponential backoff.
func retry[T any](ctx context.Context, m *Manager, op func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.retryInterval
	b.MaxInterval = 10 * m.retryInterval
	return backoff.Retry(ctx, func() (T, error) {
		cctx, cancel := context.WithTimeout(ctx, m.blobTimeout)
		defer cancel()
		v, err := op(cctx)
		if errors.Is(err, blob.ErrInvalidKey) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(m.retries))
}

func (m *Manager) dbContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.dbTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.dbTimeout)
}

func (m *Manager) publish(submissionID, actorID string) {
	if m.events == nil {
		return
	}
	m.events.Publish(stream.Event{
		Kind:         stream.KindImages,
		SubmissionID: submissionID,
		ActorID:      actorID,
		Timestamp:    time.Now().UTC(),
	})
}
