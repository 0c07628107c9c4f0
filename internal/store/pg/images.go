package pg

import (
	"context"
	"database/sql"
	"fmt"

	"mitsnews.org/internal/submission"
)

const imageColumns = `id::text, submission_id::text, image_url, image_name, created_at`

func scanImage(row scanner) (submission.Image, error) {
	var img submission.Image
	err := row.Scan(&img.ID, &img.SubmissionID, &img.URL, &img.Name, &img.CreatedAt)
	return img, err
}

// InsertImages locks the parent row so a concurrent review cannot interleave,
// then consumes the owner's staging claim and writes the row for every image
// in one transaction.
func (s *Store) InsertImages(ctx context.Context, submissionID string, images []submission.Image) ([]submission.Image, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var status, ownerID string
	if err := tx.QueryRowContext(ctx, `select status, owner_id from submissions where id = $1 for update`, submissionID).Scan(&status, &ownerID); err != nil {
		return nil, classify(err)
	}
	if submission.Status(status) != submission.StatusPending {
		return nil, fmt.Errorf("%w: submission is %s", submission.ErrInvalidInput, status)
	}

	out := make([]submission.Image, 0, len(images))
	for _, img := range images {
		res, err := tx.ExecContext(ctx,
			`delete from staged_uploads where image_url = $1 and owner_id = $2`, img.URL, ownerID)
		if err != nil {
			return nil, classify(err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, err
		} else if n == 0 {
			return nil, fmt.Errorf("%w: %s is not a staged upload", submission.ErrInvalidInput, img.URL)
		}
		row := tx.QueryRowContext(ctx, `
			insert into submission_images (id, submission_id, image_url, image_name, created_at)
			values ($1, $2, $3, $4, $5)
			returning `+imageColumns,
			img.ID, submissionID, img.URL, img.Name, img.CreatedAt)
		stored, err := scanImage(row)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, stored)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) StageUpload(ctx context.Context, ownerID, url string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into staged_uploads (image_url, owner_id)
		values ($1, $2)
		on conflict (image_url) do nothing`, url, ownerID)
	if err != nil {
		return classify(err)
	}
	return nil
}

// ReleaseUploads waits on claims held by an open InsertImages transaction, so
// when it returns those binds have either committed or rolled back.
func (s *Store) ReleaseUploads(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`delete from staged_uploads where image_url = any($1::text[])`, textArray(urls))
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) GetImage(ctx context.Context, id string) (submission.Image, error) {
	img, err := scanImage(s.db.QueryRowContext(ctx, `select `+imageColumns+` from submission_images where id = $1`, id))
	if err != nil {
		return submission.Image{}, classify(err)
	}
	return img, nil
}

func (s *Store) ImageByURL(ctx context.Context, url string) (submission.Image, error) {
	img, err := scanImage(s.db.QueryRowContext(ctx, `select `+imageColumns+` from submission_images where image_url = $1`, url))
	if err != nil {
		return submission.Image{}, classify(err)
	}
	return img, nil
}

func (s *Store) DeleteImage(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `delete from submission_images where id = $1`, id); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) BoundURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	bound := make(map[string]struct{})
	if len(urls) == 0 {
		return bound, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`select image_url from submission_images where image_url = any($1::text[])`, textArray(urls))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		bound[u] = struct{}{}
	}
	return bound, rows.Err()
}

// imagesFor groups the images of the given submissions, oldest first.
func (s *Store) imagesFor(ctx context.Context, submissionIDs []string) (map[string][]submission.Image, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+imageColumns+`
		from submission_images
		where submission_id = any($1::uuid[])
		order by created_at asc, id asc`, textArray(submissionIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]submission.Image, len(submissionIDs))
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out[img.SubmissionID] = append(out[img.SubmissionID], img)
	}
	return out, rows.Err()
}
