// ABOUTME: JSON response helpers and the error-to-status mapping.
// ABOUTME: Run failures additionally carry the step's log tail in the body.
package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/seqmill/seqmill/pipeline"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusForError maps pipeline conditions onto HTTP status codes. User
// correctable problems are 400s, lookup misses 404s, everything else 500s.
func statusForError(err error) int {
	var (
		notFound     *pipeline.NotFoundError
		badParams    *pipeline.BadParamsError
		precondition *pipeline.PreconditionError
		noRecords    *pipeline.NoRecordsError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &badParams),
		errors.As(err, &precondition),
		errors.As(err, &noRecords):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": ...}; step failures get a log_tail
// field too.
func writeError(w http.ResponseWriter, err error) {
	body := map[string]any{"error": err.Error()}
	var stepErr *pipeline.StepError
	if errors.As(err, &stepErr) {
		body["log_tail"] = stepErr.LogTail
	}
	writeJSON(w, statusForError(err), body)
}
