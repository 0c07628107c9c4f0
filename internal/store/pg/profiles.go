package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"mitsnews.org/internal/auth"
)

const profileColumns = `id, email, full_name, role, created_at, updated_at`

func scanProfile(row scanner) (auth.Profile, error) {
	var (
		p    auth.Profile
		role string
	)
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &role, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return auth.Profile{}, err
	}
	p.Role = auth.Role(role)
	return p, nil
}

func profileError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrCheckViolation {
		return fmt.Errorf("%w: violates %s", auth.ErrInvalidInput, pgErr.ConstraintName)
	}
	return err
}

// EnsureProfile upserts the identity. Blank claims keep the stored values and
// the role column is left alone on conflict.
func (s *Store) EnsureProfile(ctx context.Context, id auth.Identity) (auth.Profile, error) {
	userID := strings.TrimSpace(id.UserID)
	if userID == "" {
		return auth.Profile{}, fmt.Errorf("%w: user id is required", auth.ErrInvalidInput)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into profiles (id, email, full_name)
		values ($1, $2, $3)
		on conflict (id) do update set
			email = coalesce(nullif(excluded.email, ''), profiles.email),
			full_name = coalesce(nullif(excluded.full_name, ''), profiles.full_name),
			updated_at = now()
		returning `+profileColumns,
		userID, id.Email, id.FullName)
	p, err := scanProfile(row)
	if err != nil {
		return auth.Profile{}, profileError(err)
	}
	return p, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (auth.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, `select `+profileColumns+` from profiles where id = $1`, userID))
	if err != nil {
		return auth.Profile{}, profileError(err)
	}
	return p, nil
}

func (s *Store) SetRole(ctx context.Context, userID string, role auth.Role) (auth.Profile, error) {
	role, err := auth.ParseRole(string(role))
	if err != nil {
		return auth.Profile{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		update profiles set role = $2, updated_at = now()
		where id = $1
		returning `+profileColumns, userID, string(role))
	p, err := scanProfile(row)
	if err != nil {
		return auth.Profile{}, profileError(err)
	}
	return p, nil
}
