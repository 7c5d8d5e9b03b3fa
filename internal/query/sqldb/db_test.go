package sqldb

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/duckmesh/askdb/internal/query"
)

func TestExecuteRollsBackAndReturnsRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT company_name, total FROM top_customers LIMIT 3`)).
		WillReturnRows(sqlmock.NewRows([]string{"company_name", "total"}).
			AddRow([]byte("Alfreds Futterkiste"), 1200.5).
			AddRow("Ernst Handel", 980.0).
			AddRow("Around the Horn", 15.25))
	mock.ExpectRollback()

	engine := New(db, DialectSQLite, Options{})
	result, err := engine.Execute(context.Background(), query.Request{SQL: `SELECT company_name, total FROM top_customers LIMIT 3`})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 3 {
		t.Fatalf("rows = %d", len(result.Rows))
	}
	if result.Rows[0][0] != "Alfreds Futterkiste" {
		t.Fatalf("first value = %#v, want string", result.Rows[0][0])
	}
	if result.Truncated {
		t.Fatal("Truncated = true, want false")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet() error = %v", err)
	}
}

func TestExecuteStopsScanningAtRowLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM orders`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))
	mock.ExpectRollback()

	engine := New(db, DialectSQLite, Options{})
	result, err := engine.Execute(context.Background(), query.Request{SQL: "SELECT id FROM orders", RowLimit: 2})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 2 || !result.Truncated {
		t.Fatalf("rows = %d truncated = %v", len(result.Rows), result.Truncated)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet() error = %v", err)
	}
}

func TestExecuteReturnsDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT revenue FROM orders`).WillReturnError(errors.New("no such column: revenue"))
	mock.ExpectRollback()

	engine := New(db, DialectSQLite, Options{})
	_, err = engine.Execute(context.Background(), query.Request{SQL: "SELECT revenue FROM orders"})
	if err == nil {
		t.Fatal("expected query error")
	}
	if got := query.FailureMessage(err); got != "no such column: revenue" {
		t.Fatalf("FailureMessage() = %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet() error = %v", err)
	}
}

func TestValidatePreparesWithoutExecuting(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectPrepare(`SELECT company_name FROM customers`).WillBeClosed()
	mock.ExpectPrepare(`SELECT revenue FROM orders`).WillReturnError(errors.New("no such column: revenue"))

	engine := New(db, DialectSQLite, Options{})
	if err := engine.Validate(context.Background(), "SELECT company_name FROM customers"); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := engine.Validate(context.Background(), "SELECT revenue FROM orders"); err == nil {
		t.Fatal("expected prepare error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet() error = %v", err)
	}
}

func TestListTablesUsesDialectQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(`FROM sqlite_master`).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("customers").AddRow("orders"))

	engine := New(db, DialectSQLite, Options{})
	tables, err := engine.ListTables(context.Background())
	if err != nil {
		t.Fatalf("ListTables() error = %v", err)
	}
	if len(tables) != 2 || tables[0] != "customers" || tables[1] != "orders" {
		t.Fatalf("ListTables() = %#v", tables)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet() error = %v", err)
	}
}

func TestSQLiteReadOnlyDSN(t *testing.T) {
	tests := map[string]string{
		"database/northwind.db":          "file:database/northwind.db?mode=ro&_pragma=query_only(1)",
		"file:northwind.db?cache=shared": "file:northwind.db?cache=shared&mode=ro&_pragma=query_only(1)",
		"file:northwind.db?mode=ro":      "file:northwind.db?mode=ro&_pragma=query_only(1)",
	}
	for input, want := range tests {
		if got := SQLiteReadOnlyDSN(input); got != want {
			t.Fatalf("SQLiteReadOnlyDSN(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
	if _, err := Open(context.Background(), Config{Driver: "sqlite"}); err == nil {
		t.Fatal("expected missing dsn error")
	}
}
