package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

var (
	ErrMalformedBody   = errors.New("malformed request body")
	ErrBodyTooLarge    = errors.New("request body too large")
	ErrUpstream        = errors.New("inference backend returned non-2xx response")
	ErrUpstreamTimeout = errors.New("inference backend request timed out")
	ErrStreamAborted   = errors.New("inference stream failed after response started")
)

type jsonError struct {
	Error string `json:"error"`
}

// WriteJSONError writes {"error": message} with the given status.
func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	body, err := json.Marshal(jsonError{Error: message})
	if err != nil {
		body = []byte(`{"error":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}
