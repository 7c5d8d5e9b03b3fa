package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/duckmesh/askdb/internal/config"
	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/query"
	"github.com/duckmesh/askdb/internal/sqlguard"
)

type queryRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

type queryResponse struct {
	SQL       string         `json:"sql"`
	Columns   []string       `json:"columns"`
	Rows      [][]any        `json:"rows"`
	Truncated bool           `json:"truncated"`
	Stats     map[string]any `json:"stats"`
}

func handleQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.QueryEngine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query engine is not configured", false, nil)
		return
	}

	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}
	if request.RowLimit < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "ROW_LIMIT_INVALID", "row_limit must not be negative", false, nil)
		return
	}
	rowLimit := request.RowLimit
	if rowLimit == 0 || (cfg.Pipeline.RowLimit > 0 && rowLimit > cfg.Pipeline.RowLimit) {
		rowLimit = cfg.Pipeline.RowLimit
	}

	executor := &query.Executor{Engine: deps.QueryEngine, RowLimit: rowLimit, Logger: deps.Logger}
	start := time.Now()
	outcome, err := executor.Execute(r.Context(), request.SQL)
	if err != nil {
		var unsafeErr *sqlguard.UnsafeQueryError
		if errors.As(err, &unsafeErr) {
			writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", "only a single read-only SELECT/WITH query is allowed", false, map[string]any{"details": unsafeErr.Reason})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "QUERY_FAILED", "query could not be completed", true, map[string]any{"details": err.Error()})
		return
	}
	if outcome.Failed() {
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{"details": outcome.Failure})
		return
	}

	rows := outcome.Rows
	if rows == nil {
		rows = [][]any{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		SQL:       outcome.SQL,
		Columns:   outcome.Columns,
		Rows:      rows,
		Truncated: outcome.Truncated,
		Stats: map[string]any{
			"duration_ms": time.Since(start).Milliseconds(),
			"row_count":   len(rows),
			"row_limit":   rowLimit,
		},
	})
}

type translateRequest struct {
	Question string `json:"question"`
}

func handleTranslateQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.QueryTranslator == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query translation is not configured", false, nil)
		return
	}
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema catalog is not loaded", false, nil)
		return
	}

	var request translateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid translation request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question cannot be empty", false, nil)
		return
	}

	generated, err := deps.QueryTranslator.Translate(r.Context(), nl2sql.Request{
		Question: request.Question,
		Catalog:  deps.Catalog,
		Limit:    cfg.Pipeline.RowLimit,
	})
	if err != nil {
		var generationErr *nl2sql.GenerationError
		if errors.As(err, &generationErr) {
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "QUERY_GENERATION_FAILED", generationErr.Error(), false, map[string]any{"sql": generationErr.SQL})
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "TRANSLATE_FAILED", "query translation failed", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, generated)
}
