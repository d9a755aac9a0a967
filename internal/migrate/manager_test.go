package migrate

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"

	"lexintake.org/migrations"
)

func TestSplitStatementsKeepsDollarBodies(t *testing.T) {
	script := `create table t (id text); -- trailing; comment
create function f() returns trigger language plpgsql as $$
begin
    raise exception 'no; way';
end;
$$;
insert into t values ('a;b');
select $tag$ ; $tag$;
`
	got := SplitStatements(script)
	if len(got) != 4 {
		t.Fatalf("expected 4 statements, got %d: %q", len(got), got)
	}
	if !strings.Contains(got[1], "end;\n$$;") {
		t.Fatalf("function body split: %q", got[1])
	}
	if got[2] != "insert into t values ('a;b');" {
		t.Fatalf("quoted literal split: %q", got[2])
	}
	if got[3] != "select $tag$ ; $tag$;" {
		t.Fatalf("tagged dollar quote split: %q", got[3])
	}
}

func TestSplitStatementsEmbeddedSchema(t *testing.T) {
	for _, name := range []string{"sql/0001_schema.up.sql", "sql/0002_row_security.up.sql"} {
		body, err := migrations.SQL.ReadFile(name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		for _, stmt := range SplitStatements(string(body)) {
			if strings.Count(stmt, "$$")%2 != 0 {
				t.Fatalf("%s: unbalanced dollar quote in %q", name, stmt)
			}
		}
	}
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	src := Source{FS: fstest.MapFS{
		"sql/0001_a.up.sql":   {Data: []byte("create table a (id int);")},
		"sql/0001_a.down.sql": {Data: []byte("drop table a;")},
		"sql/0002_b.up.sql":   {Data: []byte("create table b (id int); create table c (id int);")},
	}, Dir: "sql"}

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("create table b (id int);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("create table c (id int);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	applied, err := NewManager(db, src, Source{}).Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_b.up.sql" {
		t.Fatalf("unexpected applied set: %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownWithoutHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := NewManager(db, Source{}, Source{}).Down(context.Background()); err != ErrNoMigrations {
		t.Fatalf("expected ErrNoMigrations, got %v", err)
	}
}
