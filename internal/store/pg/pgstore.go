// Package pg is the PostgreSQL repository for submissions, their images and
// user profiles.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"mitsnews.org/internal/auth"
	"mitsnews.org/internal/submission"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrCheckViolation      = "23514"
	pgErrInvalidText         = "22P02"
)

type Store struct {
	db *sql.DB
}

var (
	_ submission.Repository = (*Store)(nil)
	_ auth.ProfileStore     = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const submissionColumns = `
	s.id::text, s.owner_id, s.type,
	coalesce(s.department, ''), coalesce(s.club, ''), coalesce(s.section, ''),
	s.title, s.description, coalesce(s.contributor_name, ''),
	to_char(s.activity_date, 'YYYY-MM-DD'), s.status,
	coalesce(s.reviewed_by, ''), s.reviewed_at, s.created_at, s.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row scanner, extra ...any) (submission.Submission, error) {
	var (
		sub        submission.Submission
		typ        string
		status     string
		reviewedAt sql.NullTime
	)
	dest := []any{
		&sub.ID, &sub.OwnerID, &typ,
		&sub.Department, &sub.Club, &sub.Section,
		&sub.Title, &sub.Description, &sub.ContributorName,
		&sub.ActivityDate, &status,
		&sub.ReviewedBy, &reviewedAt, &sub.CreatedAt, &sub.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return submission.Submission{}, err
	}
	sub.Type = submission.Type(typ)
	sub.Status = submission.Status(status)
	if reviewedAt.Valid {
		t := reviewedAt.Time
		sub.ReviewedAt = &t
	}
	return sub, nil
}

func (s *Store) CreateSubmission(ctx context.Context, sub submission.Submission) (submission.Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into submissions as s (
			id, owner_id, type, department, club, section,
			title, description, contributor_name, activity_date,
			status, created_at, updated_at
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::date, $11, $12, $12)
		returning `+submissionColumns,
		sub.ID, sub.OwnerID, string(sub.Type),
		nullIfEmpty(sub.Department), nullIfEmpty(sub.Club), nullIfEmpty(sub.Section),
		sub.Title, sub.Description, nullIfEmpty(sub.ContributorName), sub.ActivityDate,
		string(sub.Status), sub.CreatedAt,
	)
	created, err := scanSubmission(row)
	if err != nil {
		return submission.Submission{}, classify(err)
	}
	return created, nil
}

func (s *Store) GetSubmission(ctx context.Context, id string) (submission.Submission, error) {
	row := s.db.QueryRowContext(ctx, `select `+submissionColumns+` from submissions s where s.id = $1`, id)
	sub, err := scanSubmission(row)
	if err != nil {
		return submission.Submission{}, classify(err)
	}
	return sub, nil
}

func (s *Store) GetDetail(ctx context.Context, id string) (submission.Detail, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+submissionColumns+`, p.id, coalesce(p.full_name, ''), coalesce(p.email, '')
		from submissions s
		left join profiles p on p.id = s.owner_id
		where s.id = $1`, id)
	var (
		ownerID         sql.NullString
		fullName, email string
	)
	sub, err := scanSubmission(row, &ownerID, &fullName, &email)
	if err != nil {
		return submission.Detail{}, classify(err)
	}
	images, err := s.imagesFor(ctx, []string{sub.ID})
	if err != nil {
		return submission.Detail{}, err
	}
	d := submission.Detail{Submission: sub, Images: images[sub.ID]}
	if d.Images == nil {
		d.Images = []submission.Image{}
	}
	if ownerID.Valid {
		d.Owner = &submission.Owner{FullName: fullName, Email: email}
	}
	return d, nil
}

func (s *Store) SetReview(ctx context.Context, id string, status submission.Status, reviewerID string, at time.Time) (submission.Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		update submissions as s
		set status = $2, reviewed_by = $3, reviewed_at = $4, updated_at = $4
		where s.id = $1
		returning `+submissionColumns,
		id, string(status), reviewerID, at)
	sub, err := scanSubmission(row)
	if err != nil {
		return submission.Submission{}, classify(err)
	}
	return sub, nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]submission.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+submissionColumns+`
		from submissions s
		where s.owner_id = $1
		order by s.created_at desc`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []submission.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) ListByStatus(ctx context.Context, status submission.Status) ([]submission.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+submissionColumns+`, p.id, coalesce(p.full_name, ''), coalesce(p.email, ''),
			(select count(*) from submission_images i where i.submission_id = s.id)
		from submissions s
		left join profiles p on p.id = s.owner_id
		where s.status = $1
		order by s.created_at desc`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []submission.QueueItem
	for rows.Next() {
		var (
			ownerID         sql.NullString
			fullName, email string
			count           int
		)
		sub, err := scanSubmission(rows, &ownerID, &fullName, &email, &count)
		if err != nil {
			return nil, err
		}
		item := submission.QueueItem{Submission: sub, ImageCount: count}
		if ownerID.Valid {
			item.Owner = &submission.Owner{FullName: fullName, Email: email}
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) ListGallery(ctx context.Context, filter submission.GalleryFilter) ([]submission.GalleryItem, error) {
	typ := filter.Type
	if typ == "" {
		typ = "all"
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+submissionColumns+`
		from submissions s
		where s.status = 'approved'
			and ($1 = 'all' or s.type = $1)
			and ($2 = '' or s.title ilike '%' || $2 || '%' escape '\')
		order by s.created_at desc`, typ, escapeLike(filter.Search))
	if err != nil {
		return nil, err
	}
	var (
		items []submission.GalleryItem
		ids   []string
	)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, submission.GalleryItem{Submission: sub})
		ids = append(ids, sub.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if len(items) == 0 {
		return nil, nil
	}

	images, err := s.imagesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Images = images[items[i].ID]
		if items[i].Images == nil {
			items[i].Images = []submission.Image{}
		}
	}
	return items, nil
}

// classify maps driver errors onto repository sentinels.
func classify(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return submission.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: duplicate %s", submission.ErrInvalidInput, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", submission.ErrNotFound, pgErr.ConstraintName)
		case pgErrInvalidText:
			return submission.ErrNotFound
		case pgErrCheckViolation:
			return fmt.Errorf("%w: violates %s", submission.ErrInvalidInput, pgErr.ConstraintName)
		}
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// textArray renders a Postgres array literal. Every element is quoted.
func textArray(values []string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
