package migrate

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/0001_init.up.sql":   {Data: []byte("create table a (id int);\n-- second; statement\ncreate table b (v text default 'x;y');")},
		"sql/0001_init.down.sql": {Data: []byte("drop table b; drop table a;")},
		"sql/0002_more.up.sql":   {Data: []byte("create table c (id int);")},
		"sql/README.md":          {Data: []byte("ignored")},
		"seeds/0001_rows.sql":    {Data: []byte("insert into a values (1);")},
	}
}

func expectEnsureTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`create table if not exists schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table if not exists schema_seeds`).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(db, testFS(), "sql", "seeds", WithClock(func() time.Time { return at }))

	expectEnsureTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`create table c`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into schema_migrations`).WithArgs("0002_more.up.sql", at).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := m.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_more.up.sql" {
		t.Fatalf("unexpected applied list: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	m := NewManager(db, testFS(), "sql", "")

	expectEnsureTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(`create table a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table b`).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	if _, err := m.Up(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRevertsLastMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	m := NewManager(db, testFS(), "sql", "seeds")

	expectEnsureTables(mock)
	mock.ExpectQuery(`select name from schema_migrations order by applied_at`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`drop table b`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`drop table a`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`delete from schema_migrations where name = \$1`).WithArgs("0001_init.up.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := m.Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0001_init.up.sql" {
		t.Fatalf("unexpected name %q", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	m := NewManager(db, testFS(), "sql", "seeds")

	expectEnsureTables(mock)
	mock.ExpectQuery(`select name from schema_migrations`).WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := m.Down(context.Background()); !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestSeedSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	m := NewManager(db, testFS(), "sql", "seeds")

	expectEnsureTables(mock)
	mock.ExpectQuery(`select name from schema_seeds`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_rows.sql"))

	applied, err := m.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected nothing applied, got %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("create table a (v text default 'a;b');\n-- note; here\ninsert into a values ('x');\n")
	var nonEmpty []string
	for _, s := range stmts {
		if len(s) > 0 && s != "\n" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(nonEmpty), stmts)
	}
	if nonEmpty[0] != "create table a (v text default 'a;b');" {
		t.Fatalf("unexpected first statement %q", nonEmpty[0])
	}
}
