package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	// defaultLockKey is "famvault" in ASCII.
	defaultLockKey int64 = 0x66616d7661756c74
)

var ErrNoMigrations = errors.New("no migrations applied")

// Manager executes SQL migrations and seed files read from a file system,
// either embedded in the binary or an os.DirFS override. Every run holds a
// Postgres advisory lock, so replicas started with auto-migrate apply each
// file once.
type Manager struct {
	db              *sql.DB
	migrations      fs.FS
	seeds           fs.FS
	migrationsTable string
	seedsTable      string
	lockKey         int64
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the default migrations bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the default seeds bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// WithLockKey changes the advisory lock key; 0 runs without a lock.
func WithLockKey(key int64) Option {
	return func(m *Manager) { m.lockKey = key }
}

// NewManager constructs a Manager. A nil seeds FS disables Seed.
func NewManager(db *sql.DB, migrations, seeds fs.FS, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		migrations:      migrations,
		seeds:           seeds,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		lockKey:         defaultLockKey,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Entry is one line of Status.
type Entry struct {
	Name    string
	Applied bool
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		return m.applyAll(ctx, conn, m.migrations, ".up.sql", m.migrationsTable, "migration")
	})
}

// Seed applies seed files idempotently.
func (m *Manager) Seed(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		return m.applyAll(ctx, conn, m.seeds, ".sql", m.seedsTable, "seed")
	})
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		executed, err := history(ctx, conn, m.migrationsTable)
		if err != nil {
			return err
		}
		if len(executed) == 0 {
			return ErrNoMigrations
		}
		last := executed[len(executed)-1]
		downPath, err := findFile(m.migrations, strings.TrimSuffix(last, ".up.sql")+".down.sql")
		if err != nil {
			return fmt.Errorf("missing down migration for %s", last)
		}
		if err := execFile(ctx, conn, m.migrations, downPath); err != nil {
			return fmt.Errorf("rollback migration %s: %w", last, err)
		}
		_, err = conn.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last)
		return err
	})
}

// Status lists applied migrations in the order they ran, then pending ones.
// Applied names no longer present in the file system are still listed.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	var out []Entry
	err := m.locked(ctx, func(conn *sql.Conn) error {
		applied, err := history(ctx, conn, m.migrationsTable)
		if err != nil {
			return err
		}
		files, err := collectSQL(m.migrations, ".up.sql")
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(applied))
		for _, name := range applied {
			seen[name] = true
			out = append(out, Entry{Name: name, Applied: true})
		}
		for _, f := range files {
			if !seen[f.Base] {
				out = append(out, Entry{Name: f.Base})
			}
		}
		return nil
	})
	return out, err
}

// locked runs fn on one pooled connection holding the advisory lock, after
// making sure the bookkeeping tables exist.
func (m *Manager) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if m.lockKey != 0 {
		if _, err := conn.ExecContext(ctx, `select pg_advisory_lock($1)`, m.lockKey); err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer func() {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), `select pg_advisory_unlock($1)`, m.lockKey)
		}()
	}
	if err := m.ensureTables(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

func (m *Manager) applyAll(ctx context.Context, conn *sql.Conn, fsys fs.FS, suffix, table, kind string) error {
	executed, err := listExecuted(ctx, conn, table)
	if err != nil {
		return err
	}
	files, err := collectSQL(fsys, suffix)
	if err != nil {
		return err
	}
	for _, f := range files {
		if executed[f.Base] {
			continue
		}
		if err := execFile(ctx, conn, fsys, f.Path); err != nil {
			return fmt.Errorf("apply %s %s: %w", kind, f.Base, err)
		}
		if _, err := conn.ExecContext(ctx, fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
			f.Base, time.Now().UTC()); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ensureTables(ctx context.Context, conn *sql.Conn) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		);`, table)
		if _, err := conn.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// execFile runs one file in a single transaction.
func execFile(ctx context.Context, conn *sql.Conn, fsys fs.FS, name string) error {
	sqlBytes, err := fs.ReadFile(fsys, name)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(sqlBytes)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func listExecuted(ctx context.Context, conn *sql.Conn, table string) (map[string]bool, error) {
	names, err := queryNames(ctx, conn, fmt.Sprintf(`select name from %s`, table))
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(names))
	for _, n := range names {
		result[n] = true
	}
	return result, nil
}

func history(ctx context.Context, conn *sql.Conn, table string) ([]string, error) {
	return queryNames(ctx, conn, fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
}

func queryNames(ctx context.Context, conn *sql.Conn, query string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

type sqlFile struct {
	Base string
	Path string
}

func collectSQL(fsys fs.FS, suffix string) ([]sqlFile, error) {
	if fsys == nil {
		return nil, nil
	}
	var files []sqlFile
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), suffix) {
			files = append(files, sqlFile{Base: d.Name(), Path: p})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Base < files[j].Base
	})
	return files, nil
}

func findFile(fsys fs.FS, base string) (string, error) {
	files, err := collectSQL(fsys, base)
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if path.Base(f.Path) == base {
			return f.Path, nil
		}
	}
	return "", fs.ErrNotExist
}

// splitStatements splits on semicolons outside single-quoted strings.
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	inString := false
	for _, r := range sql {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}
