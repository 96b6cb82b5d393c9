package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/adverant/nexus/recipe-extractor/internal/errors"
)

// Gateway-only error codes. Pipeline failures use their ErrorKind as code.
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInternal       = "INTERNAL"
	CodeJobNotFound    = "JOB_NOT_FOUND"
	CodeJobsDisabled   = "JOBS_DISABLED"
	// CodeJobsUnavailable reports a job store or queue backend failure
	CodeJobsUnavailable = "JOBS_UNAVAILABLE"
)

// ErrorResponse is the caller-facing failure body
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// StatusForKind maps a pipeline error kind to its HTTP status
func StatusForKind(kind errors.ErrorKind) int {
	switch kind {
	case errors.ErrorUnsupportedFormat, errors.ErrorImageTooLarge, errors.ErrorInsufficientText:
		return http.StatusBadRequest
	case errors.ErrorUnrecoverableSchema, errors.ErrorMalformedResponse:
		return http.StatusUnprocessableEntity
	case errors.ErrorOCREngineUnavailable, errors.ErrorInterpreterUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrorOCRTimeout, errors.ErrorInterpreterTimeout, errors.ErrorPipelineTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorOverloaded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{ErrorCode: code, Message: message})
}

// writePipelineError reports a failure without stage or cause details
func writePipelineError(w http.ResponseWriter, pe *errors.PipelineError) {
	status := StatusForKind(pe.Kind)
	code := string(pe.Kind)
	if status == http.StatusInternalServerError {
		code = CodeInternal
	}
	if pe.Kind == errors.ErrorOverloaded {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, code, pe.Message)
}
