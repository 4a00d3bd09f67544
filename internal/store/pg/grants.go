package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"famvault.org/internal/docs"
	"famvault.org/internal/ids"
	"famvault.org/internal/sharing"
	"famvault.org/internal/version"
)

const grantColumns = `id, document_id, user_id, access_level, is_revoked, version, created_at, updated_at`

func scanGrant(row scanner) (sharing.Grant, error) {
	var (
		g     sharing.Grant
		level string
		ver   int64
	)
	if err := row.Scan(&g.ID, &g.DocumentID, &g.UserID, &level, &g.IsRevoked, &ver, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return sharing.Grant{}, err
	}
	g.AccessLevel = sharing.AccessLevel(level)
	g.Version = counterToken(ver)
	return g, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listGrants(ctx context.Context, q queryer, query string, arg string) ([]sharing.Grant, error) {
	rows, err := q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []sharing.Grant{}
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

const activeGrantsForDocument = `
	select ` + grantColumns + `
	from document_grants
	where document_id=$1 and not is_revoked
	order by user_id asc`

func (s *Store) ListGrants(ctx context.Context, documentID string) ([]sharing.Grant, error) {
	return listGrants(ctx, s.db, activeGrantsForDocument, documentID)
}

func (s *Store) GrantsForUser(ctx context.Context, userID string) ([]sharing.Grant, error) {
	return listGrants(ctx, s.db, `
		select `+grantColumns+`
		from document_grants
		where user_id=$1 and not is_revoked
		order by document_id asc`, userID)
}

// ApplyGrants locks the document row so concurrent batches for the same
// document serialize, then applies the changes fn derives from the active grants.
func (s *Store) ApplyGrants(ctx context.Context, documentID string, fn docs.GrantChanges) ([]sharing.Grant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	locked, err := scanDocument(tx.QueryRowContext(ctx, `select `+documentColumns+` from documents where id=$1 for update`, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", docs.ErrNotFound, documentID)
	}
	if err != nil {
		return nil, err
	}

	existing, err := listGrants(ctx, tx, activeGrantsForDocument, documentID)
	if err != nil {
		return nil, err
	}
	changes, err := fn(locked, existing)
	if err != nil {
		return nil, err
	}

	written := make([]sharing.Grant, 0, len(changes))
	for _, ch := range changes {
		g := ch.Grant
		var row *sql.Row
		switch ch.Kind {
		case sharing.ChangeCreate:
			row = tx.QueryRowContext(ctx, `
				insert into document_grants (id, document_id, user_id, access_level, created_at, updated_at)
				values ($1,$2,$3,$4,$5,$6)
				returning `+grantColumns,
				ids.New(), documentID, g.UserID, string(g.AccessLevel), g.CreatedAt, g.UpdatedAt)
		case sharing.ChangeUpdate:
			row = tx.QueryRowContext(ctx, `
				update document_grants
				set access_level=$2, updated_at=$3, version = version + 1
				where id=$1 and document_id=$4 and not is_revoked
				returning `+grantColumns,
				g.ID, string(g.AccessLevel), g.UpdatedAt, documentID)
		default:
			return nil, fmt.Errorf("unknown change kind %d", ch.Kind)
		}
		stored, err := scanGrant(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: grant %s", docs.ErrNotFound, g.ID)
		}
		if err != nil {
			return nil, mapWriteError(err)
		}
		written = append(written, stored)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return written, nil
}

// UpdateGrant writes level and revocation state. A zero expected token skips
// the version comparison.
func (s *Store) UpdateGrant(ctx context.Context, g sharing.Grant, expected version.Token) (sharing.Grant, error) {
	var want sql.NullInt64
	if !expected.IsZero() {
		v, ok := counterFromToken(expected)
		if !ok {
			return sharing.Grant{}, s.grantMismatch(ctx, g.ID, expected)
		}
		want = sql.NullInt64{Int64: v, Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		update document_grants
		set access_level=$2, is_revoked=$3, updated_at=$4, version = version + 1
		where id=$1 and not is_revoked and ($5::bigint is null or version=$5)
		returning `+grantColumns,
		g.ID, string(g.AccessLevel), g.IsRevoked, g.UpdatedAt, want)
	updated, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sharing.Grant{}, s.grantMismatch(ctx, g.ID, expected)
	}
	if err != nil {
		return sharing.Grant{}, err
	}
	return updated, nil
}

func (s *Store) grantMismatch(ctx context.Context, id string, expected version.Token) error {
	var (
		current int64
		revoked bool
	)
	err := s.db.QueryRowContext(ctx, `select version, is_revoked from document_grants where id=$1`, id).Scan(&current, &revoked)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && revoked) {
		return fmt.Errorf("%w: grant %s", docs.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return &version.MismatchError{Resource: "grant", ID: id, Expected: expected, Current: counterToken(current)}
}
