package sqlguard

import (
	"errors"
	"strings"
	"testing"
)

func TestCleanStripsMarkdownFence(t *testing.T) {
	got := Clean("```sql\nSELECT 1;\n```")
	if got != "SELECT 1" {
		t.Fatalf("Clean() = %q", got)
	}
}

func TestCleanStripsChainMarkers(t *testing.T) {
	raw := "Question: top customers\nSQLQuery: SELECT \"CompanyName\" FROM \"Customers\" LIMIT 3;\nSQLResult: [(...)]\nAnswer: ..."
	got := Clean(raw)
	if got != `SELECT "CompanyName" FROM "Customers" LIMIT 3` {
		t.Fatalf("Clean() = %q", got)
	}
}

func TestCleanKeepsPlainStatement(t *testing.T) {
	got := Clean("  SELECT count(*) FROM orders;;  ")
	if got != "SELECT count(*) FROM orders" {
		t.Fatalf("Clean() = %q", got)
	}
}

func TestCheckReadOnlyAcceptsQueries(t *testing.T) {
	allowed := []string{
		"SELECT 1",
		"select * from customers where company_name = 'Alfreds'",
		"WITH totals AS (SELECT customer_id, sum(freight) AS f FROM orders GROUP BY 1) SELECT * FROM totals",
		"-- top customers\nSELECT * FROM customers",
		"SELECT replace(company_name, ' ', '_') FROM customers",
		"SELECT last_update_date FROM products;",
		"SELECT 'a;b' AS literal",
		"SELECT 1 -- note; not a second statement",
		"SELECT /* first; second */ company_name FROM customers",
		"SELECT 1 -- don't\nFROM orders",
		"SELECT * FROM orders WHERE note = 'moved into storage'",
		`SELECT "into" FROM customers`,
	}
	for _, sql := range allowed {
		if err := CheckReadOnly(sql); err != nil {
			t.Fatalf("CheckReadOnly(%q) error = %v", sql, err)
		}
	}
}

func TestCheckReadOnlyRejectsMutations(t *testing.T) {
	rejected := []string{
		"",
		"   ;",
		"INSERT INTO customers VALUES (1)",
		"update customers set company_name = 'x'",
		"DELETE FROM orders",
		"DROP TABLE orders",
		"ALTER TABLE orders ADD COLUMN x int",
		"CREATE TABLE t (x int)",
		"SELECT 1; DROP TABLE orders",
		"SELECT 1; SELECT 2",
		"WITH gone AS (DELETE FROM orders RETURNING *) SELECT * FROM gone",
		"PRAGMA table_info(orders)",
		"REPLACE INTO customers VALUES (1)",
		"ATTACH DATABASE 'x.db' AS x",
		"SELECT * FROM orders WHERE 1=1 /* */ ; insert into x values (1)",
		"SELECT * INTO archived_orders FROM orders",
		"select customer_id into temp copy from customers",
		"SELECT 1 -- it's fine\n; SELECT 2",
		"SELECT 1 /* don't */ ; SELECT 2",
	}
	for _, sql := range rejected {
		err := CheckReadOnly(sql)
		var unsafe *UnsafeQueryError
		if !errors.As(err, &unsafe) {
			t.Fatalf("CheckReadOnly(%q) error = %v, want *UnsafeQueryError", sql, err)
		}
		if unsafe.Reason == "" {
			t.Fatalf("CheckReadOnly(%q) returned empty reason", sql)
		}
	}
}

func TestEffectiveLimit(t *testing.T) {
	n, ok := EffectiveLimit("SELECT * FROM orders ORDER BY freight DESC LIMIT 3;")
	if !ok || n != 3 {
		t.Fatalf("EffectiveLimit() = %d, %v", n, ok)
	}
	n, ok = EffectiveLimit("select * from orders limit 10 offset 20")
	if !ok || n != 10 {
		t.Fatalf("EffectiveLimit() with offset = %d, %v", n, ok)
	}
	if _, ok := EffectiveLimit("SELECT * FROM (SELECT * FROM orders LIMIT 3)"); ok {
		t.Fatal("EffectiveLimit() should ignore limits inside subqueries")
	}
}

func TestEnforceLimitKeepsTighterBound(t *testing.T) {
	sql := "SELECT * FROM customers LIMIT 3"
	if got := EnforceLimit(sql, 20); got != sql {
		t.Fatalf("EnforceLimit() = %q", got)
	}
}

func TestEnforceLimitWrapsLooserOrMissingBound(t *testing.T) {
	for _, sql := range []string{
		"SELECT * FROM customers",
		"SELECT * FROM customers LIMIT 500",
		"SELECT * FROM customers -- all of them",
	} {
		got := EnforceLimit(sql, 20)
		n, ok := EffectiveLimit(got)
		if !ok || n != 20 {
			t.Fatalf("EnforceLimit(%q) = %q, bound = %d, %v", sql, got, n, ok)
		}
		if !strings.Contains(got, "AS limited") {
			t.Fatalf("EnforceLimit(%q) = %q, want wrapped statement", sql, got)
		}
		if err := CheckReadOnly(got); err != nil {
			t.Fatalf("CheckReadOnly(EnforceLimit(%q)) error = %v", sql, err)
		}
	}
}

func TestEnforceLimitZeroDisablesBound(t *testing.T) {
	if got := EnforceLimit("SELECT * FROM customers;", 0); got != "SELECT * FROM customers" {
		t.Fatalf("EnforceLimit() = %q", got)
	}
}
