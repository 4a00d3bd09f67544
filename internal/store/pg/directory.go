package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"famvault.org/internal/access"
	"famvault.org/internal/docs"
	"famvault.org/internal/version"
)

// Users and families have no version column; their tokens are synthesized
// from updated_at and compared back as timestamps.

func scanUser(row scanner) (docs.User, error) {
	var (
		u      docs.User
		family sql.NullString
		role   string
	)
	if err := row.Scan(&u.ID, &family, &u.Email, &u.DisplayName, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return docs.User{}, err
	}
	u.FamilyID = family.String
	u.Role = access.Role(role)
	u.CreatedAt, u.UpdatedAt = u.CreatedAt.UTC(), u.UpdatedAt.UTC()
	u.Version = version.FromTime(u.UpdatedAt)
	return u, nil
}

const userColumns = `id, family_id, email, display_name, role, created_at, updated_at`

func (s *Store) GetUser(ctx context.Context, id string) (docs.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return docs.User{}, fmt.Errorf("%w: user %s", docs.ErrNotFound, id)
	}
	if err != nil {
		return docs.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u docs.User, expected version.Token) (docs.User, error) {
	at, ok := expected.Time()
	if !ok {
		return docs.User{}, s.userMismatch(ctx, u.ID, expected)
	}
	row := s.db.QueryRowContext(ctx, `
		update users
		set display_name=$2, role=$3, updated_at=$4
		where id=$1 and updated_at=$5
		returning `+userColumns,
		u.ID, u.DisplayName, string(u.Role), u.UpdatedAt, at)
	updated, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return docs.User{}, s.userMismatch(ctx, u.ID, expected)
	}
	if err != nil {
		return docs.User{}, err
	}
	return updated, nil
}

func (s *Store) userMismatch(ctx context.Context, id string, expected version.Token) error {
	current, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}
	return &version.MismatchError{Resource: "user", ID: id, Expected: expected, Current: current.Version}
}

func (s *Store) FamilyMembers(ctx context.Context, familyID string) ([]docs.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users where family_id=$1 order by id`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []docs.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanFamily(row scanner) (docs.Family, error) {
	var f docs.Family
	if err := row.Scan(&f.ID, &f.Name, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return docs.Family{}, err
	}
	f.CreatedAt, f.UpdatedAt = f.CreatedAt.UTC(), f.UpdatedAt.UTC()
	f.Version = version.FromTime(f.UpdatedAt)
	return f, nil
}

func (s *Store) GetFamily(ctx context.Context, id string) (docs.Family, error) {
	f, err := scanFamily(s.db.QueryRowContext(ctx, `select id, name, created_at, updated_at from families where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return docs.Family{}, fmt.Errorf("%w: family %s", docs.ErrNotFound, id)
	}
	if err != nil {
		return docs.Family{}, err
	}
	return f, nil
}

func (s *Store) UpdateFamily(ctx context.Context, f docs.Family, expected version.Token) (docs.Family, error) {
	at, ok := expected.Time()
	if !ok {
		return docs.Family{}, s.familyMismatch(ctx, f.ID, expected)
	}
	row := s.db.QueryRowContext(ctx, `
		update families set name=$2, updated_at=$3
		where id=$1 and updated_at=$4
		returning id, name, created_at, updated_at`,
		f.ID, f.Name, f.UpdatedAt, at)
	updated, err := scanFamily(row)
	if errors.Is(err, sql.ErrNoRows) {
		return docs.Family{}, s.familyMismatch(ctx, f.ID, expected)
	}
	if err != nil {
		return docs.Family{}, err
	}
	return updated, nil
}

func (s *Store) familyMismatch(ctx context.Context, id string, expected version.Token) error {
	current, err := s.GetFamily(ctx, id)
	if err != nil {
		return err
	}
	return &version.MismatchError{Resource: "family", ID: id, Expected: expected, Current: current.Version}
}
