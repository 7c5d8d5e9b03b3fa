package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/duckmesh/askdb/internal/agent"
	"github.com/duckmesh/askdb/internal/config"
	"github.com/duckmesh/askdb/internal/nl2sql"
	"github.com/duckmesh/askdb/internal/pipeline"
	"github.com/duckmesh/askdb/internal/sqlguard"
	"github.com/duckmesh/askdb/internal/stream"
)

type conversationRequest struct {
	Question string `json:"question"`
	// Content is accepted as an alias of Question.
	Content string `json:"content"`
	Mode    string `json:"mode"`
}

func handleConversation(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request conversationRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid conversation request body", false, map[string]any{"details": err.Error()})
		return
	}

	raw := request.Question
	if strings.TrimSpace(raw) == "" {
		raw = request.Content
	}
	question, err := pipeline.ValidateQuestion(raw)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question cannot be empty", false, nil)
		return
	}

	mode := strings.ToLower(strings.TrimSpace(request.Mode))
	if mode == "" {
		mode = cfg.Pipeline.Mode
	}
	runner, ok := deps.Runners[mode]
	if !ok || runner == nil {
		writeError(r.Context(), w, http.StatusBadRequest, "MODE_UNSUPPORTED", "unsupported pipeline mode", false, map[string]any{"mode": mode})
		return
	}

	frames, err := stream.Serve(r.Context(), w, runner.Answer(r.Context(), question), errorCode)
	if err == nil {
		return
	}
	if deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "conversation failed",
			slog.String("mode", mode),
			slog.Int("frames", frames),
			slog.Any("error", err),
		)
	}
	if frames > 0 || r.Context().Err() != nil {
		return
	}
	status, code, retryable := classify(err)
	writeError(r.Context(), w, status, code, err.Error(), retryable, map[string]any{"mode": mode})
}

// classify maps a failure that happened before the first frame to a
// response status.
func classify(err error) (int, string, bool) {
	var generationErr *nl2sql.GenerationError
	var unsafeErr *sqlguard.UnsafeQueryError
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		return http.StatusBadRequest, "QUESTION_REQUIRED", false
	case errors.As(err, &generationErr):
		return http.StatusUnprocessableEntity, "QUERY_GENERATION_FAILED", false
	case errors.As(err, &unsafeErr):
		return http.StatusUnprocessableEntity, "SQL_NOT_ALLOWED", false
	case errors.Is(err, agent.ErrIterationLimitExceeded):
		return http.StatusUnprocessableEntity, "ITERATION_LIMIT_EXCEEDED", false
	default:
		return http.StatusBadGateway, "ANSWER_FAILED", true
	}
}

func errorCode(err error) string {
	_, code, _ := classify(err)
	return code
}
