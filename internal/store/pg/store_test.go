package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"mitsnews.org/internal/auth"
	"mitsnews.org/internal/submission"
)

const subID = "3f1c2a9e-7d0b-4c55-9a51-2e8f6b1d0c44"

var submissionCols = []string{
	"id", "owner_id", "type", "department", "club", "section",
	"title", "description", "contributor_name", "activity_date", "status",
	"reviewed_by", "reviewed_at", "created_at", "updated_at",
}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func submissionValues(status string, reviewedAt any) []driver.Value {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	reviewer := ""
	if reviewedAt != nil {
		reviewer = "admin-1"
	}
	return []driver.Value{
		subID, "user-1", "department", "Civil Engineering", "", "Department Activities",
		"Bridge workshop", "Two day workshop", "", "2025-02-20", status,
		reviewer, reviewedAt, created, created,
	}
}

func TestCreateSubmission(t *testing.T) {
	store, mock := newMock(t)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery("insert into submissions as s").
		WithArgs(subID, "user-1", "department", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			"Bridge workshop", "Two day workshop", sqlmock.AnyArg(), "2025-02-20", "pending", now).
		WillReturnRows(sqlmock.NewRows(submissionCols).AddRow(submissionValues("pending", nil)...))

	got, err := store.CreateSubmission(context.Background(), submission.Submission{
		ID: subID, OwnerID: "user-1", Type: submission.TypeDepartment,
		Department: "Civil Engineering", Section: "Department Activities",
		Title: "Bridge workshop", Description: "Two day workshop",
		ActivityDate: "2025-02-20", Status: submission.StatusPending, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if got.ID != subID || got.Status != submission.StatusPending || got.ReviewedAt != nil {
		t.Fatalf("unexpected submission %+v", got)
	}
	if got.Department != "Civil Engineering" || got.ActivityDate != "2025-02-20" {
		t.Fatalf("unexpected target %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateSubmissionCheckViolation(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into submissions").
		WillReturnError(&pgconn.PgError{Code: pgErrCheckViolation, ConstraintName: "submissions_target"})

	_, err := store.CreateSubmission(context.Background(), submission.Submission{ID: subID})
	if !errors.Is(err, submission.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetSubmissionNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("from submissions s where s.id = \\$1").WithArgs(subID).WillReturnError(sql.ErrNoRows)

	if _, err := store.GetSubmission(context.Background(), subID); !errors.Is(err, submission.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetReview(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("update submissions as s\\s+set status = \\$2, reviewed_by = \\$3, reviewed_at = \\$4").
		WithArgs(subID, "approved", "admin-1", at).
		WillReturnRows(sqlmock.NewRows(submissionCols).AddRow(submissionValues("approved", at)...))

	got, err := store.SetReview(context.Background(), subID, submission.StatusApproved, "admin-1", at)
	if err != nil {
		t.Fatalf("SetReview: %v", err)
	}
	if got.Status != submission.StatusApproved || got.ReviewedBy != "admin-1" {
		t.Fatalf("unexpected review %+v", got)
	}
	if got.ReviewedAt == nil || !got.ReviewedAt.Equal(at) {
		t.Fatalf("unexpected reviewed_at %v", got.ReviewedAt)
	}
}

func TestGetDetailWithoutProfile(t *testing.T) {
	store, mock := newMock(t)
	cols := append(append([]string{}, submissionCols...), "owner", "full_name", "email")
	values := append(submissionValues("pending", nil), nil, "", "")
	mock.ExpectQuery("left join profiles p on p.id = s.owner_id").WithArgs(subID).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(values...))
	mock.ExpectQuery("from submission_images").WithArgs(`{"` + subID + `"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "submission_id", "image_url", "image_name", "created_at"}))

	d, err := store.GetDetail(context.Background(), subID)
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	if d.Owner != nil {
		t.Fatalf("expected nil owner, got %+v", d.Owner)
	}
	if d.Images == nil || len(d.Images) != 0 {
		t.Fatalf("expected empty image list, got %#v", d.Images)
	}
}

func TestListByStatusJoinsOwner(t *testing.T) {
	store, mock := newMock(t)
	cols := append(append([]string{}, submissionCols...), "owner", "full_name", "email", "count")
	values := append(submissionValues("pending", nil), "user-1", "Asha Nair", "asha@example.com", int64(3))
	mock.ExpectQuery("where s.status = \\$1").WithArgs("pending").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(values...))

	items, err := store.ListByStatus(context.Background(), submission.StatusPending)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(items) != 1 || items[0].ImageCount != 3 {
		t.Fatalf("unexpected items %+v", items)
	}
	if items[0].Owner == nil || items[0].Owner.FullName != "Asha Nair" {
		t.Fatalf("unexpected owner %+v", items[0].Owner)
	}
}

func TestListGalleryAttachesImages(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery("where s.status = 'approved'").WithArgs("department", `50\% off\_sale`).
		WillReturnRows(sqlmock.NewRows(submissionCols).AddRow(submissionValues("approved", at)...))
	mock.ExpectQuery("from submission_images").WithArgs(`{"` + subID + `"}`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "submission_id", "image_url", "image_name", "created_at"}).
			AddRow("img-1", subID, "http://cdn/a.png", "a.png", at).
			AddRow("img-2", subID, "http://cdn/b.png", "b.png", at))

	items, err := store.ListGallery(context.Background(), submission.GalleryFilter{Type: "department", Search: "50% off_sale"})
	if err != nil {
		t.Fatalf("ListGallery: %v", err)
	}
	if len(items) != 1 || len(items[0].Images) != 2 {
		t.Fatalf("unexpected gallery %+v", items)
	}
	if items[0].Images[0].URL != "http://cdn/a.png" {
		t.Fatalf("unexpected order %+v", items[0].Images)
	}
}

func TestListGalleryEmptySkipsImageQuery(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("where s.status = 'approved'").WithArgs("all", "").
		WillReturnRows(sqlmock.NewRows(submissionCols))

	items, err := store.ListGallery(context.Background(), submission.GalleryFilter{})
	if err != nil || len(items) != 0 {
		t.Fatalf("expected empty gallery, got %v %v", items, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func lockPending(mock sqlmock.Sqlmock, status string) {
	mock.ExpectQuery(regexp.QuoteMeta("select status, owner_id from submissions where id = $1 for update")).
		WithArgs(subID).WillReturnRows(sqlmock.NewRows([]string{"status", "owner_id"}).AddRow(status, "user-1"))
}

func expectClaim(mock sqlmock.Sqlmock, url string, affected int64) {
	mock.ExpectExec(regexp.QuoteMeta("delete from staged_uploads where image_url = $1 and owner_id = $2")).
		WithArgs(url, "user-1").WillReturnResult(sqlmock.NewResult(0, affected))
}

func TestInsertImagesRollsBackOnDuplicate(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	imageCols := []string{"id", "submission_id", "image_url", "image_name", "created_at"}

	mock.ExpectBegin()
	lockPending(mock, "pending")
	expectClaim(mock, "http://cdn/a.png", 1)
	mock.ExpectQuery("insert into submission_images").
		WithArgs("img-1", subID, "http://cdn/a.png", "a.png", now).
		WillReturnRows(sqlmock.NewRows(imageCols).AddRow("img-1", subID, "http://cdn/a.png", "a.png", now))
	expectClaim(mock, "http://cdn/b.png", 1)
	mock.ExpectQuery("insert into submission_images").
		WithArgs("img-2", subID, "http://cdn/b.png", "b.png", now).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "submission_images_image_url_key"})
	mock.ExpectRollback()

	_, err := store.InsertImages(context.Background(), subID, []submission.Image{
		{ID: "img-1", URL: "http://cdn/a.png", Name: "a.png", CreatedAt: now},
		{ID: "img-2", URL: "http://cdn/b.png", Name: "b.png", CreatedAt: now},
	})
	if !errors.Is(err, submission.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertImagesRejectsReviewed(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectBegin()
	lockPending(mock, "approved")
	mock.ExpectRollback()

	_, err := store.InsertImages(context.Background(), subID, []submission.Image{{ID: "img-1", URL: "u", Name: "n"}})
	if !errors.Is(err, submission.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertImagesRequiresStagingClaim(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	lockPending(mock, "pending")
	expectClaim(mock, "http://cdn/gone.png", 0)
	mock.ExpectRollback()

	_, err := store.InsertImages(context.Background(), subID, []submission.Image{{ID: "img-1", URL: "http://cdn/gone.png", Name: "gone.png", CreatedAt: now}})
	if !errors.Is(err, submission.ErrInvalidInput) || !strings.Contains(err.Error(), "not a staged upload") {
		t.Fatalf("expected unclaimed url to be refused, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestInsertImagesCommits(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectBegin()
	lockPending(mock, "pending")
	expectClaim(mock, "http://cdn/a.png", 1)
	mock.ExpectQuery("insert into submission_images").
		WillReturnRows(sqlmock.NewRows([]string{"id", "submission_id", "image_url", "image_name", "created_at"}).
			AddRow("img-1", subID, "http://cdn/a.png", "a.png", now))
	mock.ExpectCommit()

	out, err := store.InsertImages(context.Background(), subID, []submission.Image{{ID: "img-1", URL: "http://cdn/a.png", Name: "a.png", CreatedAt: now}})
	if err != nil {
		t.Fatalf("InsertImages: %v", err)
	}
	if len(out) != 1 || out[0].SubmissionID != subID {
		t.Fatalf("unexpected images %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStagingClaims(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("insert into staged_uploads").WithArgs("http://cdn/a.png", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("delete from staged_uploads where image_url = any($1::text[])")).
		WithArgs(`{"http://cdn/a.png","http://cdn/b.png"}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	if err := store.StageUpload(ctx, "user-1", "http://cdn/a.png"); err != nil {
		t.Fatalf("StageUpload: %v", err)
	}
	if err := store.ReleaseUploads(ctx, []string{"http://cdn/a.png", "http://cdn/b.png"}); err != nil {
		t.Fatalf("ReleaseUploads: %v", err)
	}
	if err := store.ReleaseUploads(ctx, nil); err != nil {
		t.Fatalf("ReleaseUploads(nil): %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestBoundURLs(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("image_url = any($1::text[])")).
		WithArgs(`{"http://cdn/a.png","http://cdn/\"q\".png"}`).
		WillReturnRows(sqlmock.NewRows([]string{"image_url"}).AddRow("http://cdn/a.png"))

	bound, err := store.BoundURLs(context.Background(), []string{"http://cdn/a.png", `http://cdn/"q".png`})
	if err != nil {
		t.Fatalf("BoundURLs: %v", err)
	}
	if _, ok := bound["http://cdn/a.png"]; !ok || len(bound) != 1 {
		t.Fatalf("unexpected bound set %v", bound)
	}

	empty, err := store.BoundURLs(context.Background(), nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty set without a query, got %v %v", empty, err)
	}
}

func TestDeleteImageIgnoresMissing(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("delete from submission_images").WithArgs("img-9").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.DeleteImage(context.Background(), "img-9"); err != nil {
		t.Fatalf("DeleteImage: %v", err)
	}
}

func TestEnsureProfileKeepsRole(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("on conflict \\(id\\) do update set").
		WithArgs("user-1", "asha@example.com", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "role", "created_at", "updated_at"}).
			AddRow("user-1", "asha@example.com", "Asha Nair", "admin", now, now))

	p, err := store.EnsureProfile(context.Background(), auth.Identity{UserID: "user-1", Email: "asha@example.com"})
	if err != nil {
		t.Fatalf("EnsureProfile: %v", err)
	}
	if p.Role != auth.RoleAdmin || p.FullName != "Asha Nair" {
		t.Fatalf("unexpected profile %+v", p)
	}

	if _, err := store.EnsureProfile(context.Background(), auth.Identity{}); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank id, got %v", err)
	}
}

func TestSetRole(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("update profiles set role").WithArgs("ghost", "admin").WillReturnError(sql.ErrNoRows)

	if _, err := store.SetRole(context.Background(), "ghost", auth.RoleAdmin); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.SetRole(context.Background(), "ghost", auth.Role("owner")); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTextArrayAndEscapeLike(t *testing.T) {
	if got := textArray([]string{`a`, `b,c`, `d\e`}); got != `{"a","b,c","d\\e"}` {
		t.Fatalf("textArray = %s", got)
	}
	if got := textArray(nil); got != "{}" {
		t.Fatalf("textArray(nil) = %s", got)
	}
	if got := escapeLike(`100%_\`); got != `100\%\_\\` {
		t.Fatalf("escapeLike = %s", got)
	}
}
