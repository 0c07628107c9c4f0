package assets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mitsnews.org/internal/audit"
	"mitsnews.org/internal/auth"
	"mitsnews.org/internal/obs"
	"mitsnews.org/internal/submission"
)

const sweepBatch = 500

// Sweep deletes staged blobs last modified before olderThan that no image row
// references. Claims are released before the bound check, so a blob is never
// deleted under a concurrent bind. It returns the number of blobs deleted.
func (m *Manager) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	objs, err := m.store.List(ctx, StagingRoot, olderThan)
	if err != nil {
		return 0, fmt.Errorf("%w: list staged blobs: %v", submission.ErrStorage, err)
	}

	deleted := 0
	var errs []error
	for start := 0; start < len(objs); start += sweepBatch {
		end := min(start+sweepBatch, len(objs))
		urls := make([]string, 0, end-start)
		byURL := make(map[string]string, end-start)
		for _, o := range objs[start:end] {
			u := m.store.URL(o.Key)
			urls = append(urls, u)
			byURL[u] = o.Key
		}

		dbctx, cancel := m.dbContext(ctx)
		if err := m.repo.ReleaseUploads(dbctx, urls); err != nil {
			cancel()
			errs = append(errs, submission.StoreError("release uploads", err))
			continue
		}
		bound, err := m.repo.BoundURLs(dbctx, urls)
		cancel()
		if err != nil {
			errs = append(errs, submission.StoreError("bound urls", err))
			continue
		}
		for _, u := range urls {
			if _, ok := bound[u]; ok {
				continue
			}
			if err := m.delete(ctx, byURL[u]); err != nil {
				errs = append(errs, fmt.Errorf("%w: delete %s: %v", submission.ErrStorage, byURL[u], err))
				continue
			}
			deleted++
		}
	}

	obs.ObserveSwept(deleted)
	_ = audit.LogEvent(ctx, auth.Session{}, "assets.sweep", map[string]any{
		"scanned":    len(objs),
		"deleted":    deleted,
		"older_than": olderThan.UTC().Format(time.RFC3339),
		"failures":   len(errs),
	})
	return deleted, errors.Join(errs...)
}
