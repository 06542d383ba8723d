package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/trader-mirror/internal/errors"
	"github.com/trader-mirror/internal/logging"
)

// ErrorBody is the JSON shape of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string) {
	respondJSON(w, statusCode, ErrorResponse{
		Error: ErrorBody{Code: code, Message: logging.RedactSecrets(message)},
	})
}

// respondServiceError maps a service-layer error onto the wire. Internal
// classes keep their detail out of the response body.
func respondServiceError(w http.ResponseWriter, err error) {
	catErr := apperrors.Categorize(err)

	switch catErr.Class {
	case apperrors.ClassNotFound:
		respondError(w, http.StatusNotFound, catErr.Code, catErr.Message)
	case apperrors.ClassValidation:
		respondError(w, http.StatusBadRequest, catErr.Code, catErr.Message)
	case apperrors.ClassUnauthorized:
		respondError(w, http.StatusUnauthorized, catErr.Code, catErr.Message)
	case apperrors.ClassForbidden:
		respondError(w, http.StatusForbidden, catErr.Code, catErr.Message)
	case apperrors.ClassRateLimited:
		respondError(w, http.StatusTooManyRequests, catErr.Code, catErr.Message)
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}

// parseJSONBody parses a JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
