package migrate

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"0001_documents.up.sql":   {Data: []byte("create table documents(id text primary key);\ncreate index documents_idx on documents(id);")},
		"0001_documents.down.sql": {Data: []byte("drop table documents;")},
		"0002_grants.up.sql":      {Data: []byte("create table grants(id text primary key, note text default 'a;b');")},
		"0002_grants.down.sql":    {Data: []byte("drop table grants;")},
		"README.md":               {Data: []byte("not sql")},
	}
}

// expectLocked covers the lock and bookkeeping tables every run starts with.
func expectLocked(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("select pg_advisory_lock($1)")).
		WithArgs(defaultLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(regexp.QuoteMeta("select pg_advisory_unlock($1)")).
		WithArgs(defaultLockKey).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectLocked(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_documents.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table grants(id text primary key, note text default 'a;b');")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_grants.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectUnlock(mock)

	mgr := NewManager(db, testFS(), nil)
	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpRollsBackFailedFile(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectLocked(mock)
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("create table documents").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create index documents_idx").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()
	expectUnlock(mock)

	err = NewManager(db, testFS(), nil).Up(context.Background())
	if err == nil {
		t.Fatal("expected Up to fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectLocked(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_documents.up.sql").AddRow("0002_grants.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table grants").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").WithArgs("0002_grants.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	expectUnlock(mock)

	if err := NewManager(db, testFS(), nil).Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectLocked(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	expectUnlock(mock)

	if err := NewManager(db, testFS(), nil).Down(context.Background()); !errors.Is(err, ErrNoMigrations) {
		t.Fatalf("expected ErrNoMigrations, got %v", err)
	}
}

func TestStatusListsAppliedThenPending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectLocked(mock)
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_documents.up.sql"))
	expectUnlock(mock)

	entries, err := NewManager(db, testFS(), nil).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	want := []Entry{{Name: "0001_documents.up.sql", Applied: true}, {Name: "0002_grants.up.sql"}}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v", entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestSeedWithoutFSIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	expectLocked(mock)
	mock.ExpectQuery("select name from schema_seeds").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	expectUnlock(mock)
	if err := NewManager(db, testFS(), nil).Seed(context.Background()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithoutLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_documents.up.sql").AddRow("0002_grants.up.sql"))

	if err := NewManager(db, testFS(), nil, WithLockKey(0)).Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSplitStatementsKeepsQuotedSemicolons(t *testing.T) {
	stmts := splitStatements("create table a(x text default ';');\ninsert into a values ('b;c');\n")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(stmts), stmts)
	}
}
