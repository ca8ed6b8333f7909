package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/kindred/internal/index"
	"github.com/kalambet/kindred/internal/match"
)

type errorDetail struct {
	Message   string      `json:"message"`
	Type      string      `json:"type"`
	Stage     match.Stage `json:"stage,omitempty"`
	Retryable bool        `json:"retryable"`
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeError(w, code, errorDetail{
		Message: fmt.Sprintf(format, args...),
		Type:    errType,
	})
}

func writeError(w http.ResponseWriter, code int, d errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"error": d})
}

// matchError maps a pipeline failure to a status code and reports the failed
// stage and whether the client may retry.
func matchError(w http.ResponseWriter, err error) {
	code, errType := http.StatusInternalServerError, "api_error"
	switch {
	case errors.Is(err, match.ErrInvalidProfile):
		code, errType = http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, match.ErrNotIndexed):
		code, errType = http.StatusNotFound, "not_found"
	case errors.Is(err, index.ErrDimensionMismatch):
		code, errType = http.StatusConflict, "dimension_mismatch"
	case errors.Is(err, match.ErrEmbeddingUnavailable):
		code, errType = http.StatusServiceUnavailable, "embedding_unavailable"
	case errors.Is(err, match.ErrIndexUnavailable):
		code, errType = http.StatusServiceUnavailable, "index_unavailable"
	case errors.Is(err, match.ErrStorageUnavailable):
		code, errType = http.StatusServiceUnavailable, "storage_unavailable"
	}
	writeError(w, code, errorDetail{
		Message:   err.Error(),
		Type:      errType,
		Stage:     match.StageOf(err),
		Retryable: match.Retryable(err),
	})
}
