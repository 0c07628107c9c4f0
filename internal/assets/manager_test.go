package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"mitsnews.org/internal/auth"
	"mitsnews.org/internal/blob"
	"mitsnews.org/internal/ids"
	"mitsnews.org/internal/submission"
)

var (
	alice = auth.Session{UserID: "alice", Role: auth.RoleContributor}
	bob   = auth.Session{UserID: "bob", Role: auth.RoleContributor}
	admin = auth.Session{UserID: "admin", Role: auth.RoleAdmin}
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func pngUpload(name string) Upload {
	return Upload{Name: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(pngHeader)), nil
	}}
}

type fixture struct {
	store   *blob.Memory
	repo    *submission.InMemory
	engine  *submission.Engine
	manager *Manager
}

func newFixture(t *testing.T, store blob.Store, opts ...Option) *fixture {
	t.Helper()
	mem := blob.NewMemory("https://cdn.test")
	if store == nil {
		store = mem
	}
	repo := submission.NewInMemory(nil)
	opts = append([]Option{WithRetries(3, time.Millisecond)}, opts...)
	return &fixture{
		store:   mem,
		repo:    repo,
		engine:  submission.NewEngine(repo),
		manager: NewManager(store, repo, opts...),
	}
}

func (f *fixture) create(t *testing.T, owner auth.Session) submission.Submission {
	t.Helper()
	s, err := f.engine.Create(context.Background(), owner, submission.CreateRequest{
		Type:            submission.TypeClub,
		Club:            "FOSS",
		Title:           "Install fest",
		Description:     "Linux install fest for juniors.",
		ContributorName: "Ravi",
		ActivityDate:    "2025-01-10",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func TestConcurrentUploadsBindDistinctRows(t *testing.T) {
	f := newFixture(t, nil, WithParallelism(3))
	ctx := context.Background()
	s := f.create(t, alice)

	outcomes := f.manager.StageBatch(ctx, alice, []Upload{pngUpload("a.png"), pngUpload("a.png"), pngUpload("b.png")})
	refs := make([]Ref, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			t.Fatalf("upload %s failed: %v", o.Name, o.Err)
		}
		refs = append(refs, *o.Ref)
	}

	images, err := f.manager.Bind(ctx, alice, s.ID, refs)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if len(images) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(images))
	}
	seen := map[string]struct{}{}
	for _, img := range images {
		if _, dup := seen[img.URL]; dup {
			t.Fatalf("duplicate storage key %s", img.URL)
		}
		seen[img.URL] = struct{}{}
		if !strings.HasPrefix(img.URL, "https://cdn.test/"+StagingPrefix("alice")) {
			t.Fatalf("unexpected url %s", img.URL)
		}
	}
	d, err := f.engine.Get(ctx, alice, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(d.Images) != 3 {
		t.Fatalf("expected 3 associations, got %d", len(d.Images))
	}
}

func TestStageRejectsInvalidFiles(t *testing.T) {
	f := newFixture(t, nil, WithMaxUploadBytes(int64(len(pngHeader))))
	ctx := context.Background()

	text := Upload{Name: "notes.png", Open: func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("just some text")), nil
	}}
	if _, err := f.manager.Stage(ctx, alice, text); !errors.Is(err, submission.ErrInvalidInput) || !strings.Contains(err.Error(), "not an image") {
		t.Fatalf("expected non-image rejection, got %v", err)
	}

	big := Upload{Name: "big.png", Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(append(append([]byte(nil), pngHeader...), 0))), nil
	}}
	if _, err := f.manager.Stage(ctx, alice, big); !errors.Is(err, submission.ErrInvalidInput) || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("expected size rejection, got %v", err)
	}

	empty := Upload{Name: "empty.png", Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("")), nil }}
	if _, err := f.manager.Stage(ctx, alice, empty); !errors.Is(err, submission.ErrInvalidInput) {
		t.Fatalf("expected empty rejection, got %v", err)
	}

	if _, err := f.manager.Stage(ctx, auth.Session{}, pngUpload("x.png")); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatalf("rejected uploads must not be stored, found %d", f.store.Len())
	}
}

// flakyStore fails Put for names containing "broken" and fails the first Put of
// names containing "flaky".
type flakyStore struct {
	*blob.Memory
	mu       sync.Mutex
	attempts map[string]int
}

func (s *flakyStore) Put(ctx context.Context, key string, data []byte, ct string) (string, error) {
	s.mu.Lock()
	s.attempts[key]++
	n := s.attempts[key]
	s.mu.Unlock()
	switch {
	case strings.Contains(key, "broken"):
		return "", errors.New("bucket unavailable")
	case strings.Contains(key, "flaky") && n == 1:
		return "", errors.New("connection reset")
	}
	return s.Memory.Put(ctx, key, data, ct)
}

func TestStageBatchIsolatesFailures(t *testing.T) {
	store := &flakyStore{Memory: blob.NewMemory("https://cdn.test"), attempts: map[string]int{}}
	f := newFixture(t, store)
	ctx := context.Background()

	outcomes := f.manager.StageBatch(ctx, alice, []Upload{pngUpload("ok.png"), pngUpload("broken.png"), pngUpload("flaky.png")})
	if outcomes[0].Err != nil || outcomes[0].Ref == nil {
		t.Fatalf("ok.png should succeed: %+v", outcomes[0])
	}
	if !errors.Is(outcomes[1].Err, submission.ErrStorage) || outcomes[1].Ref != nil {
		t.Fatalf("broken.png should fail with storage error: %+v", outcomes[1])
	}
	if outcomes[2].Err != nil {
		t.Fatalf("flaky.png should succeed after retry: %v", outcomes[2].Err)
	}
	for key, n := range store.attempts {
		if strings.Contains(key, "broken") && n != 3 {
			t.Fatalf("expected 3 attempts for broken upload, got %d", n)
		}
	}
	if store.Memory.Len() != 2 {
		t.Fatalf("expected 2 stored blobs, got %d", store.Memory.Len())
	}
}

func TestBindRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := f.create(t, alice)

	ref, err := f.manager.Stage(ctx, alice, pngUpload("a.png"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	bobRef, err := f.manager.Stage(ctx, bob, pngUpload("b.png"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	if _, err := f.manager.Bind(ctx, bob, s.ID, []Ref{bobRef}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("non-owner bind: expected forbidden, got %v", err)
	}
	if _, err := f.manager.Bind(ctx, alice, s.ID, []Ref{ref, bobRef}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("foreign staged blob: expected forbidden, got %v", err)
	}
	missing := Ref{Key: StagingPrefix("alice") + ids.New() + "-ghost.png"}
	if _, err := f.manager.Bind(ctx, alice, s.ID, []Ref{missing}); !errors.Is(err, submission.ErrInvalidInput) {
		t.Fatalf("missing blob: expected invalid input, got %v", err)
	}
	if _, err := f.manager.Bind(ctx, alice, ids.NewRecordID(), []Ref{ref}); !errors.Is(err, submission.ErrNotFound) {
		t.Fatalf("missing submission: expected not found, got %v", err)
	}
	if d, _ := f.engine.Get(ctx, alice, s.ID); len(d.Images) != 0 {
		t.Fatalf("failed binds must not leave rows, found %d", len(d.Images))
	}

	if _, err := f.manager.Bind(ctx, alice, s.ID, []Ref{{URL: ref.URL, Name: "by-url.png"}}); err != nil {
		t.Fatalf("bind by url: %v", err)
	}
	if _, err := f.manager.Bind(ctx, alice, s.ID, []Ref{ref}); !errors.Is(err, submission.ErrInvalidInput) {
		t.Fatalf("rebinding: expected invalid input, got %v", err)
	}

	if _, err := f.engine.Review(ctx, admin, s.ID, submission.StatusApproved); err != nil {
		t.Fatalf("Review: %v", err)
	}
	late, _ := f.manager.Stage(ctx, alice, pngUpload("late.png"))
	if _, err := f.manager.Bind(ctx, alice, s.ID, []Ref{late}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("bind after review: expected forbidden, got %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := f.create(t, alice)

	ref, _ := f.manager.Stage(ctx, alice, pngUpload("a.png"))
	if _, err := f.manager.Bind(ctx, alice, s.ID, []Ref{ref}); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if err := f.manager.Remove(ctx, bob, ref); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("non-owner remove: expected forbidden, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := f.manager.Remove(ctx, alice, ref); err != nil {
			t.Fatalf("Remove #%d: %v", i+1, err)
		}
	}
	if ok, _ := f.store.Exists(ctx, ref.Key); ok {
		t.Fatalf("blob survived removal")
	}
	if _, err := f.repo.ImageByURL(ctx, ref.URL); !errors.Is(err, submission.ErrNotFound) {
		t.Fatalf("association row survived removal: %v", err)
	}

	staged, _ := f.manager.Stage(ctx, alice, pngUpload("staged.png"))
	if err := f.manager.Remove(ctx, alice, staged); err != nil {
		t.Fatalf("Remove staged: %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatalf("expected empty store, found %d", f.store.Len())
	}
}

func TestRemoveImageByID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := f.create(t, alice)
	ref, _ := f.manager.Stage(ctx, alice, pngUpload("a.png"))
	images, err := f.manager.Bind(ctx, alice, s.ID, []Ref{ref})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if _, err := f.engine.Review(ctx, admin, s.ID, submission.StatusRejected); err != nil {
		t.Fatalf("Review: %v", err)
	}
	if err := f.manager.RemoveImage(ctx, alice, images[0].ID); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("remove after review: expected forbidden, got %v", err)
	}
	if ok, _ := f.store.Exists(ctx, ref.Key); !ok {
		t.Fatalf("refused removal must keep the blob")
	}

	if err := f.manager.RemoveImage(ctx, alice, "not-a-uuid"); err != nil {
		t.Fatalf("malformed id: expected no-op, got %v", err)
	}
	if err := f.manager.RemoveImage(ctx, alice, ids.NewRecordID()); err != nil {
		t.Fatalf("unknown id: expected no-op, got %v", err)
	}

	s2 := f.create(t, alice)
	ref2, _ := f.manager.Stage(ctx, alice, pngUpload("b.png"))
	images2, _ := f.manager.Bind(ctx, alice, s2.ID, []Ref{ref2})
	for i := 0; i < 2; i++ {
		if err := f.manager.RemoveImage(ctx, alice, images2[0].ID); err != nil {
			t.Fatalf("RemoveImage #%d: %v", i+1, err)
		}
	}
	if ok, _ := f.store.Exists(ctx, ref2.Key); ok {
		t.Fatalf("blob survived RemoveImage")
	}
}

func TestSweepDeletesOnlyStaleUnboundBlobs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := f.create(t, alice)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	f.store.SetClock(func() time.Time { return start })
	bound, _ := f.manager.Stage(ctx, alice, pngUpload("bound.png"))
	abandoned, _ := f.manager.Stage(ctx, alice, pngUpload("abandoned.png"))
	if _, err := f.manager.Bind(ctx, alice, s.ID, []Ref{bound}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	f.store.SetClock(func() time.Time { return start.Add(48 * time.Hour) })
	fresh, _ := f.manager.Stage(ctx, alice, pngUpload("fresh.png"))

	n, err := f.manager.Sweep(ctx, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept blob, got %d", n)
	}
	for _, tc := range []struct {
		ref  Ref
		want bool
	}{{bound, true}, {abandoned, false}, {fresh, true}} {
		if ok, _ := f.store.Exists(ctx, tc.ref.Key); ok != tc.want {
			t.Fatalf("%s exists=%v want %v", tc.ref.Key, ok, tc.want)
		}
	}
}

func TestStagingPrefixesDoNotCollide(t *testing.T) {
	seen := map[string]string{}
	for _, id := range []string{"a@b", "a_b", "a.b", "x.", "x", "x/y", "X"} {
		p := StagingPrefix(id)
		if other, dup := seen[p]; dup {
			t.Fatalf("%q and %q share prefix %s", id, other, p)
		}
		if _, err := blob.CleanKey(p + "f.png"); err != nil {
			t.Fatalf("prefix for %q is not a valid key: %v", id, err)
		}
		seen[p] = id
	}

	f := newFixture(t, nil)
	ctx := context.Background()
	owner := auth.Session{UserID: "a_b", Role: auth.RoleContributor}
	other := auth.Session{UserID: "a@b", Role: auth.RoleContributor}
	ref, err := f.manager.Stage(ctx, owner, pngUpload("v.png"))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := f.manager.Remove(ctx, other, ref); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("remove by lookalike id: expected forbidden, got %v", err)
	}
	s := f.create(t, other)
	if _, err := f.manager.Bind(ctx, other, s.ID, []Ref{ref}); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("bind by lookalike id: expected forbidden, got %v", err)
	}
	if ok, _ := f.store.Exists(ctx, ref.Key); !ok {
		t.Fatalf("staged blob of %q was deleted", owner.UserID)
	}
}

// gatedStore parks the first Exists call until release is closed.
type gatedStore struct {
	*blob.Memory
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.Memory.Exists(ctx, key)
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return ok, err
}

func TestBindLosesToConcurrentDelete(t *testing.T) {
	for _, tc := range []struct {
		name   string
		delete func(ctx context.Context, m *Manager, ref Ref) error
	}{
		{"remove", func(ctx context.Context, m *Manager, ref Ref) error {
			return m.Remove(ctx, alice, ref)
		}},
		{"sweep", func(ctx context.Context, m *Manager, _ Ref) error {
			n, err := m.Sweep(ctx, time.Now().Add(time.Hour))
			if err == nil && n != 1 {
				return fmt.Errorf("swept %d blobs", n)
			}
			return err
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := &gatedStore{
				Memory:  blob.NewMemory("https://cdn.test"),
				entered: make(chan struct{}),
				release: make(chan struct{}),
			}
			f := newFixture(t, store)
			ctx := context.Background()
			s := f.create(t, alice)
			ref, err := f.manager.Stage(ctx, alice, pngUpload("a.png"))
			if err != nil {
				t.Fatalf("Stage: %v", err)
			}

			bindErr := make(chan error, 1)
			go func() {
				_, err := f.manager.Bind(ctx, alice, s.ID, []Ref{ref})
				bindErr <- err
			}()
			<-store.entered
			if err := tc.delete(ctx, f.manager, ref); err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			close(store.release)

			if err := <-bindErr; !errors.Is(err, submission.ErrInvalidInput) {
				t.Fatalf("bind after %s: expected invalid input, got %v", tc.name, err)
			}
			if ok, _ := store.Memory.Exists(ctx, ref.Key); ok {
				t.Fatalf("blob survived %s", tc.name)
			}
			if _, err := f.repo.ImageByURL(ctx, ref.URL); !errors.Is(err, submission.ErrNotFound) {
				t.Fatalf("image row without a blob: %v", err)
			}
		})
	}
}

func TestRemoveAfterBindTakesBoundPath(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	s := f.create(t, alice)
	ref, _ := f.manager.Stage(ctx, alice, pngUpload("a.png"))
	if _, err := f.manager.Bind(ctx, alice, s.ID, []Ref{ref}); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := f.engine.Review(ctx, admin, s.ID, submission.StatusApproved); err != nil {
		t.Fatalf("Review: %v", err)
	}
	if err := f.manager.Remove(ctx, alice, ref); !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("remove of reviewed image: expected forbidden, got %v", err)
	}
	if ok, _ := f.store.Exists(ctx, ref.Key); !ok {
		t.Fatalf("bound blob of a reviewed submission was deleted")
	}
}
