package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/duckmesh/askdb/internal/catalog"
	"github.com/duckmesh/askdb/internal/config"
)

func TestHealthEndpoint(t *testing.T) {
	cfg, err := config.Load("askdb-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg, err := config.Load("askdb-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		Readiness: func(rctx context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
	if body["trace_id"] == "" {
		t.Fatal("trace_id is empty")
	}
}

func TestReadyEndpointPingsEngine(t *testing.T) {
	cfg, err := config.Load("askdb-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	engine := &fakeQueryEngine{pingErr: errors.New("database is closed")}

	h := NewHandler(cfg, Dependencies{Readiness: CombineReadinessChecks(CheckCatalog(testCatalog()), CheckEngine(engine))})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}

	engine.pingErr = nil
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckCatalogRejectsEmptyCatalog(t *testing.T) {
	if err := CheckCatalog(nil)(context.Background()); err == nil {
		t.Fatal("expected error for nil catalog")
	}
	if err := CheckCatalog(catalog.New("SQLite", nil))(context.Background()); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}

func TestSchemaEndpointListsTables(t *testing.T) {
	cfg, err := config.Load("askdb-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{Catalog: testCatalog()})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body schemaResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body.Dialect != "SQLite" || len(body.Tables) != 2 || body.Tables[0].Name != "customers" {
		t.Fatalf("body = %+v", body)
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func testCatalog() *catalog.Catalog {
	return catalog.New("SQLite", []catalog.Table{
		{Name: "orders", Columns: []catalog.Column{{Name: "order_id", Type: "INTEGER"}, {Name: "freight", Type: "REAL"}}},
		{Name: "customers", Columns: []catalog.Column{{Name: "company_name", Type: "TEXT"}}, SampleRows: [][]any{{"Ernst Handel"}}},
	})
}
