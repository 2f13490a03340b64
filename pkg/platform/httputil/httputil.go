// Package httputil holds the JSON response helpers shared by every handler.
package httputil

import (
	"encoding/json"
	"io"
	"net/http"

	dErrors "labtrail/pkg/domain-errors"
)

// ErrorRecorder is implemented by response writers that want to see the
// domain error behind an error response. The audit middleware uses it to
// keep the internal cause without exposing it to the client.
type ErrorRecorder interface {
	RecordError(err error)
}

type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders err as {"error": code, "error_description": message}.
// Internal errors omit the description.
func WriteError(w http.ResponseWriter, err error) {
	if rec, ok := w.(ErrorRecorder); ok {
		rec.RecordError(err)
	}
	code := dErrors.CodeOf(err)
	body := errorBody{Error: string(code)}
	if code != dErrors.CodeInternal {
		body.ErrorDescription = dErrors.Message(err)
	}
	WriteJSON(w, dErrors.HTTPStatus(code), body)
}

// DecodeJSON decodes the request body into dst, rejecting unknown fields.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}
