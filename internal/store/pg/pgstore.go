package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"io/fs"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"famvault.org/internal/docs"
	"famvault.org/internal/version"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

//go:embed seeds/*.sql
var seedFiles embed.FS

// Migrations returns the embedded schema migrations.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Seeds returns the embedded demo data.
func Seeds() fs.FS {
	sub, err := fs.Sub(seedFiles, "seeds")
	if err != nil {
		panic(err)
	}
	return sub
}

// Store implements docs.Store on PostgreSQL. Documents and grants carry an
// integer version column; users and families are versioned by updated_at.
type Store struct {
	db *sql.DB
}

var _ docs.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
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

// Ping reports database readiness.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

func counterToken(v int64) version.Token {
	return version.MustParse(strconv.FormatInt(v, 10))
}

// counterFromToken decodes a token issued by counterToken. Foreign tokens
// cannot match any row.
func counterFromToken(tok version.Token) (int64, bool) {
	v, err := strconv.ParseInt(tok.String(), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapWriteError translates constraint violations into docs errors.
func mapWriteError(err error) error {
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return errors.Join(docs.ErrConflict, err)
		case pgErrForeignKeyViolation:
			return errors.Join(docs.ErrNotFound, err)
		}
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}
