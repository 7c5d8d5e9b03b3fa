package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/duckmesh/askdb/internal/config"
	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/query"
)

func TestQueryEndpointReturnsResults(t *testing.T) {
	cfg, err := config.Load("askdb-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	engine := &fakeQueryEngine{result: query.Result{Columns: []string{"c"}, Rows: [][]any{{int64(2)}}}}
	service := NewHandler(cfg, Dependencies{QueryEngine: engine})

	rr := httptest.NewRecorder()
	service.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"sql":"SELECT 2 AS c;","row_limit":500}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["sql"] != "SELECT 2 AS c" {
		t.Fatalf("sql = %v", body["sql"])
	}
	if len(engine.requests) != 1 {
		t.Fatalf("engine request count = %d", len(engine.requests))
	}
	if engine.requests[0].RowLimit != 20 {
		t.Fatalf("RowLimit = %d, want configured cap 20", engine.requests[0].RowLimit)
	}
}

func TestQueryEndpointRejectsUnsafeSQL(t *testing.T) {
	cfg, err := config.Load("askdb-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	engine := &fakeQueryEngine{}
	service := NewHandler(cfg, Dependencies{QueryEngine: engine})

	for _, sql := range []string{"DELETE FROM orders", "SELECT 1; DROP TABLE orders"} {
		payload, _ := json.Marshal(map[string]any{"sql": sql})
		rr := httptest.NewRecorder()
		service.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(string(payload))))
		if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "SQL_NOT_ALLOWED") {
			t.Fatalf("%q: status = %d, body = %s", sql, rr.Code, rr.Body.String())
		}
	}
	if len(engine.requests) != 0 {
		t.Fatalf("engine received %d requests", len(engine.requests))
	}
}

func TestQueryEndpointReportsExecutionFailure(t *testing.T) {
	cfg, err := config.Load("askdb-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	service := NewHandler(cfg, Dependencies{QueryEngine: &fakeQueryEngine{err: errors.New("no such column: revenue")}})

	rr := httptest.NewRecorder()
	service.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(`{"sql":"SELECT revenue FROM orders"}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	details, _ := body["context"].(map[string]any)
	if body["error_code"] != "QUERY_EXECUTION_FAILED" || details["details"] != "no such column: revenue" {
		t.Fatalf("body = %v", body)
	}
}

func TestTranslateEndpoint(t *testing.T) {
	cfg, err := config.Load("askdb-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	translator := &fakeTranslator{generated: nl2sql.GeneratedQuery{SQL: `SELECT COUNT(*) FROM "orders"`, Limit: 20, Model: "fake"}}
	service := NewHandler(cfg, Dependencies{Catalog: testCatalog(), QueryTranslator: translator})

	rr := httptest.NewRecorder()
	service.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query/translate", strings.NewReader(`{"question":"How many orders?"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var body nl2sql.GeneratedQuery
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body != translator.generated {
		t.Fatalf("body = %+v", body)
	}
	if translator.requests[0].Limit != 20 || translator.requests[0].Catalog == nil {
		t.Fatalf("request = %+v", translator.requests[0])
	}

	translator.err = &nl2sql.GenerationError{SQL: "SELECT nope", Err: errors.New("no such column: nope")}
	rr = httptest.NewRecorder()
	service.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/query/translate", strings.NewReader(`{"question":"nope?"}`)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestEndpointsReportMissingComponents(t *testing.T) {
	cfg, err := config.Load("askdb-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	service := NewHandler(cfg, Dependencies{})

	tests := []struct {
		method, path, body, code string
	}{
		{http.MethodPost, "/v1/query", `{"sql":"SELECT 1"}`, "QUERY_NOT_CONFIGURED"},
		{http.MethodPost, "/v1/query/translate", `{"question":"How many orders?"}`, "TRANSLATE_NOT_CONFIGURED"},
		{http.MethodGet, "/v1/schema", "", "SCHEMA_NOT_CONFIGURED"},
	}
	for _, tc := range tests {
		rr := httptest.NewRecorder()
		service.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s status = %d, want %d", tc.path, rr.Code, http.StatusNotImplemented)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("json decode failed: %v", err)
		}
		if body["error_code"] != tc.code {
			t.Fatalf("%s error_code = %v, want %s", tc.path, body["error_code"], tc.code)
		}
	}
}

type fakeQueryEngine struct {
	requests []query.Request
	result   query.Result
	err      error
	pingErr  error
}

func (f *fakeQueryEngine) Execute(_ context.Context, request query.Request) (query.Result, error) {
	f.requests = append(f.requests, request)
	if f.err != nil {
		return query.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeQueryEngine) Validate(context.Context, string) error      { return nil }
func (f *fakeQueryEngine) ListTables(context.Context) ([]string, error) { return nil, nil }
func (f *fakeQueryEngine) Dialect() string                              { return "SQLite" }
func (f *fakeQueryEngine) Ping(context.Context) error                   { return f.pingErr }

type fakeTranslator struct {
	generated nl2sql.GeneratedQuery
	err       error
	requests  []nl2sql.Request
}

func (f *fakeTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.GeneratedQuery, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nl2sql.GeneratedQuery{}, f.err
	}
	return f.generated, nil
}
