// Package apierr translates internal/storeerr.Kind and other request-handling
// failures into the HTTP status codes and snake_case error bodies §6
// specifies for the JSON API.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xxrust/device-version-manager/internal/storeerr"
)

// body is the wire shape of every non-2xx response: {"error": "<snake_case_code>"}.
type body struct {
	Error string `json:"error"`
}

// Write maps err to a status code and writes the JSON error body. A nil err
// is a programmer error; callers should not invoke Write in that case.
func Write(w http.ResponseWriter, err error) {
	status, code := classify(err)
	WriteCode(w, status, code)
}

// WriteCode writes an explicit status and snake_case code, bypassing
// classification, for handler-local validation failures that never touch the store.
func WriteCode(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body{Error: code})
}

func classify(err error) (int, string) {
	var se *storeerr.Error
	if errors.As(err, &se) {
		switch se.Kind {
		case storeerr.KindNotFound:
			return http.StatusNotFound, "not_found"
		case storeerr.KindConflict:
			return http.StatusConflict, "conflict"
		case storeerr.KindInvalid:
			return http.StatusBadRequest, "invalid_request"
		default:
			return http.StatusInternalServerError, "internal_error"
		}
	}
	return http.StatusInternalServerError, "internal_error"
}
