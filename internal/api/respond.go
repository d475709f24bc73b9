package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/heartline/server/internal/matching"
	"github.com/heartline/server/internal/profile"
)

// maxBodyBytes caps request bodies; the largest legitimate body is a profile.
const maxBodyBytes = 64 << 10

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error      string `json:"error"`
	Field      string `json:"field,omitempty"`
	Reason     string `json:"reason,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorBody{Error: code})
}

// writeValidation reports a rejected field as 400 validation.
func writeValidation(w http.ResponseWriter, field, reason string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "validation", Field: field, Reason: reason})
}

// writeRetry reports a throttled or suspended caller with a Retry-After hint.
func writeRetry(w http.ResponseWriter, status int, code, reason string, after time.Duration) {
	secs := int64(after.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeJSON(w, status, errorBody{Error: code, Reason: reason, RetryAfter: secs})
}

// validationFields extracts the offending field from the validation errors
// the domain packages return.
func validationFields(err error) (field, reason string, ok bool) {
	var mv *matching.ValidationError
	if errors.As(err, &mv) {
		return mv.Field, mv.Reason, true
	}
	var pv *profile.ValidationError
	if errors.As(err, &pv) {
		return pv.Field, pv.Reason, true
	}
	return "", "", false
}

// decodeJSON reads a single JSON object from the body into dst. An empty body
// leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
