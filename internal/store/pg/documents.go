package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"famvault.org/internal/docs"
	"famvault.org/internal/version"
)

const documentColumns = `id, family_id, owner_user_id, title, description, category_id, subcategory_id,
	file_name, file_content_type, file_size, file_checksum, is_deleted, version, created_at, updated_at`

func scanDocument(row scanner) (docs.Document, error) {
	var (
		d   docs.Document
		ver int64
	)
	err := row.Scan(&d.ID, &d.FamilyID, &d.OwnerUserID, &d.Title, &d.Description, &d.CategoryID, &d.SubcategoryID,
		&d.File.Name, &d.File.ContentType, &d.File.Size, &d.File.Checksum, &d.IsDeleted, &ver, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return docs.Document{}, err
	}
	d.Version = counterToken(ver)
	return d, nil
}

func (s *Store) CreateDocument(ctx context.Context, doc docs.Document) (docs.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into documents (id, family_id, owner_user_id, title, description, category_id, subcategory_id,
			file_name, file_content_type, file_size, file_checksum, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
		returning `+documentColumns,
		doc.ID, doc.FamilyID, doc.OwnerUserID, doc.Title, doc.Description, doc.CategoryID, doc.SubcategoryID,
		doc.File.Name, doc.File.ContentType, doc.File.Size, doc.File.Checksum, doc.CreatedAt)
	created, err := scanDocument(row)
	if err != nil {
		return docs.Document{}, mapWriteError(err)
	}
	return created, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (docs.Document, error) {
	doc, err := scanDocument(s.db.QueryRowContext(ctx, `select `+documentColumns+` from documents where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return docs.Document{}, fmt.Errorf("%w: document %s", docs.ErrNotFound, id)
	}
	if err != nil {
		return docs.Document{}, err
	}
	return doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, familyID string) ([]docs.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+documentColumns+`
		from documents
		where family_id=$1 and not is_deleted
		order by created_at asc, id asc
	`, familyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []docs.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateDocument writes every mutable column when the stored version still
// equals expected, bumping the version by one.
func (s *Store) UpdateDocument(ctx context.Context, doc docs.Document, expected version.Token) (docs.Document, error) {
	want, ok := counterFromToken(expected)
	if !ok {
		return docs.Document{}, s.documentMismatch(ctx, doc.ID, expected)
	}
	row := s.db.QueryRowContext(ctx, `
		update documents
		set title=$2, description=$3, category_id=$4, subcategory_id=$5,
			file_name=$6, file_content_type=$7, file_size=$8, file_checksum=$9,
			is_deleted=$10, updated_at=$11, version = version + 1
		where id=$1 and version=$12
		returning `+documentColumns,
		doc.ID, doc.Title, doc.Description, doc.CategoryID, doc.SubcategoryID,
		doc.File.Name, doc.File.ContentType, doc.File.Size, doc.File.Checksum,
		doc.IsDeleted, doc.UpdatedAt, want)
	updated, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return docs.Document{}, s.documentMismatch(ctx, doc.ID, expected)
	}
	if err != nil {
		return docs.Document{}, err
	}
	return updated, nil
}

// documentMismatch distinguishes a missing document from a stale version.
func (s *Store) documentMismatch(ctx context.Context, id string, expected version.Token) error {
	var current int64
	err := s.db.QueryRowContext(ctx, `select version from documents where id=$1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: document %s", docs.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	return &version.MismatchError{Resource: "document", ID: id, Expected: expected, Current: counterToken(current)}
}
