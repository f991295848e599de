// Package handlers provides HTTP request handlers for the lanprobe API.
// This file contains the response and request helpers shared by every
// handler.
package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/lanprobe/internal/api/middleware"
	"github.com/anstrom/lanprobe/internal/errors"
	"github.com/anstrom/lanprobe/internal/logging"
)

// DefaultMaxRequestSize bounds request bodies when no limit is configured.
const DefaultMaxRequestSize = 64 * 1024

// StatusClientClosedRequest is logged when the client went away before the
// probe finished.
const StatusClientClosedRequest = 499

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string           `json:"error"`
	Message   string           `json:"message"`
	Code      errors.ErrorCode `json:"code,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	RequestID string           `json:"request_id,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// getRequestIDFromContext extracts request ID from context.
func getRequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(middleware.RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but don't try to write another response
		logging.Error("Failed to encode JSON response",
			"request_id", getRequestIDFromContext(r.Context()),
			"error", err)
	}
}

// writeError writes an error response with an explicit status code.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	writeJSON(w, r, statusCode, ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   err.Error(),
		Code:      errors.GetCode(err),
		Timestamp: time.Now().UTC(),
		RequestID: getRequestIDFromContext(r.Context()),
	})
}

// MethodNotAllowed answers requests whose path matched a route registered for
// other methods.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed on %s", r.Method, r.URL.Path))
}

// writeProbeError maps an engine error to an HTTP status and writes it.
func writeProbeError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusForError(err), err)
}

// statusForError maps error codes to HTTP status codes.
func statusForError(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeValidation:
		return http.StatusBadRequest
	case errors.CodeConfiguration:
		return http.StatusServiceUnavailable
	case errors.CodeCanceled:
		return StatusClientClosedRequest
	case errors.CodeTimeout:
		return http.StatusGatewayTimeout
	case errors.CodeResourceExhausted:
		return http.StatusTooManyRequests
	case errors.CodeRefused, errors.CodeUnreachable, errors.CodeNameResolution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseJSON decodes the request body into dest and validates it. An empty
// body leaves dest untouched when allowEmpty is set.
func parseJSON(r *http.Request, dest interface{}, maxSize int64, allowEmpty bool) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxRequestSize
	}

	if r.Body != nil && r.Body != http.NoBody {
		r.Body = http.MaxBytesReader(nil, r.Body, maxSize)

		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()

		if err := decoder.Decode(dest); err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case stderrors.As(err, &tooLarge):
				return errors.ErrValidation(fmt.Sprintf("request body too large (max %d bytes)", maxSize))
			case stderrors.Is(err, io.EOF) && allowEmpty:
				// fall through to validation of the zero value
			case stderrors.Is(err, io.EOF):
				return errors.ErrValidation("request body is empty")
			default:
				return errors.WrapProbeError(errors.CodeValidation, "invalid JSON", err)
			}
		}
	} else if !allowEmpty {
		return errors.ErrValidation("request body is empty")
	}

	if err := validate.Struct(dest); err != nil {
		return errors.WrapProbeError(errors.CodeValidation, validationMessage(err), err)
	}
	return nil
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return fmt.Sprintf("field %q failed %q validation", fe.Field(), fe.Tag())
	}
	return "invalid request"
}
