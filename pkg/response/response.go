// Package response writes the JSON bodies of the public HTTP contract.
// Success bodies are written bare; failures use {"error": ..., "code": ...}.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/windfall/pronunciation_service/internal/errors"
)

// ErrorBody represents an error in the response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes a JSON response.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// OK writes a 200 response.
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// Error writes an error response. AppErrors carry their own status; any
// other error becomes a 500 without exposing its text.
func Error(w http.ResponseWriter, err error) {
	if appErr, ok := errors.As(err); ok {
		JSON(w, appErr.HTTPStatus(), &ErrorBody{
			Error: appErr.Message,
			Code:  string(appErr.Code),
		})
		return
	}
	InternalError(w, "Internal server error.")
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// BadRequest writes a 400 Bad Request response.
func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, &ErrorBody{
		Error: message,
		Code:  string(errors.ErrValidation),
	})
}

// Unauthorized writes a 401 Unauthorized response.
func Unauthorized(w http.ResponseWriter, message string) {
	JSON(w, http.StatusUnauthorized, &ErrorBody{
		Error: message,
		Code:  string(errors.ErrUnauthorized),
	})
}

// MethodNotAllowed writes a 405 response.
func MethodNotAllowed(w http.ResponseWriter) {
	JSON(w, http.StatusMethodNotAllowed, &ErrorBody{Error: "Method Not Allowed"})
}

// InternalError writes a 500 Internal Server Error response.
func InternalError(w http.ResponseWriter, message string) {
	JSON(w, http.StatusInternalServerError, &ErrorBody{
		Error: message,
		Code:  string(errors.ErrInternal),
	})
}
