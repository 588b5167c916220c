package middleware

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

const maxBodyBytes = 1 << 20

// WriteJSON renders v with status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError renders {"error": message} with the status of err's kind.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, apperr.HTTPStatus(apperr.KindOf(err)), map[string]string{"error": apperr.Message(err)})
}

// DecodeJSON reads a JSON request body into v. Malformed bodies are
// Invalid errors.
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.Invalid, "malformed request body", err)
	}
	return nil
}
