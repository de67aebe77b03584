package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"mercator-hq/warden/pkg/faults"
	"mercator-hq/warden/pkg/telemetry/logging"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Problems  []string `json:"problems,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
}

// requestError is a client error detected by the HTTP layer itself.
type requestError struct {
	status int
	code   string
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...interface{}) error {
	return &requestError{status: http.StatusBadRequest, code: "bad_request", msg: fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and JSON error body. Server-side
// failures are logged and their detail withheld from the caller.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classify(err)
	detail.RequestID = logging.GetRequestID(r.Context())
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func classify(err error) (int, errorDetail) {
	var (
		re *requestError
		ve *faults.ValidationError
		fe *faults.FieldNotFoundError
	)
	switch {
	case errors.As(err, &re):
		return re.status, errorDetail{Code: re.code, Message: re.msg}
	case errors.As(err, &ve):
		return http.StatusBadRequest, errorDetail{Code: "validation_failed", Message: err.Error(), Problems: ve.Problems}
	case faults.IsValidation(err):
		return http.StatusBadRequest, errorDetail{Code: "type_mismatch", Message: err.Error()}
	case errors.As(err, &fe):
		return http.StatusBadRequest, errorDetail{Code: "field_not_found", Message: err.Error()}
	case faults.IsNotFound(err):
		return http.StatusNotFound, errorDetail{Code: "not_found", Message: err.Error()}
	case faults.IsConflict(err):
		return http.StatusConflict, errorDetail{Code: "conflict", Message: err.Error()}
	case errors.Is(err, faults.ErrInvalidTransition),
		errors.Is(err, faults.ErrCaseClosed),
		errors.Is(err, faults.ErrReopenNotAllowed),
		errors.Is(err, faults.ErrPolicyArchived):
		return http.StatusConflict, errorDetail{Code: "invalid_state", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorDetail{Code: "internal", Message: "an internal error occurred"}
	}
}

// decodeJSON reads one JSON value into dst, rejecting unknown fields. An
// empty body leaves dst untouched when optional is set.
func decodeJSON(r *http.Request, dst interface{}, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF) && optional:
			return nil
		case errors.Is(err, io.EOF):
			return badRequest("request body is required")
		case errors.As(err, &tooLarge):
			return &requestError{
				status: http.StatusRequestEntityTooLarge,
				code:   "body_too_large",
				msg:    fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			}
		default:
			return badRequest("invalid JSON body: %v", err)
		}
	}
	if dec.More() {
		return badRequest("request body must contain a single JSON value")
	}
	return nil
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("query parameter %q must be a non-negative integer", name)
	}
	return n, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("query parameter %q must be a boolean", name)
	}
	return b, nil
}

func page(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}
