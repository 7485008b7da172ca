// Package httpx provides the JSON envelope shared by the API handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Failure is the body of every unsuccessful response.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Fail sends a failure envelope.
func Fail(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Failure{Success: false, Error: message})
}

// DecodeJSON decodes the request body into target. Failures carry a 400
// status for RespondError.
func DecodeJSON(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return WithStatus(http.StatusBadRequest, ErrEmptyBody)
	}
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return WithStatus(http.StatusBadRequest, ErrEmptyBody)
		}
		return WithStatus(http.StatusBadRequest, fmt.Errorf("%w: %v", ErrValidation, err))
	}
	return nil
}
