package utils

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Public rejection codes
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeThrottled       = "throttled"
)

// Rejection is the body of every authorization rejection
type Rejection struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retry_after,omitempty"` // seconds, throttled only
}

// ErrorResponse represents a structured error response for handler-level failures
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response with optional data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteCreated writes a 201 Created response with optional data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, SuccessResponse{Data: data})
}

// WriteNoContent writes a 204 No Content response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteBadRequest writes a 400 Bad Request response with error details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "bad_request",
		Message: message,
		Details: details,
	})
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusNotFound, ErrorResponse{
		Error:   "not_found",
		Message: message,
	})
}

// WriteConflict writes a 409 Conflict response
func WriteConflict(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return WriteJSON(w, http.StatusConflict, ErrorResponse{
		Error:   "conflict",
		Message: message,
		Details: details,
	})
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return WriteJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: message,
	})
}

// RejectionStatus maps a rejection code to its HTTP status. Unknown codes are forbidden.
func RejectionStatus(code string) int {
	switch code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeThrottled:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}

var defaultRejectionMessages = map[string]string{
	CodeUnauthenticated: "Authentication required",
	CodeForbidden:       "Access forbidden",
	CodeThrottled:       "Rate limit exceeded",
}

// WriteRejection writes an authorization rejection. retryAfter is only sent for
// throttled rejections, both as a header and in the body.
func WriteRejection(w http.ResponseWriter, code, message string, retryAfter int) error {
	if _, ok := defaultRejectionMessages[code]; !ok {
		code = CodeForbidden
	}
	if message == "" {
		message = defaultRejectionMessages[code]
	}

	body := Rejection{Code: code, Message: message}
	if code == CodeThrottled {
		if retryAfter < 1 {
			retryAfter = 1
		}
		body.RetryAfter = &retryAfter
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	if code == CodeUnauthenticated {
		w.Header().Set("WWW-Authenticate", `Bearer realm="tenantguard"`)
	}
	return WriteJSON(w, RejectionStatus(code), body)
}

// WriteUnauthorized writes a 401 unauthenticated rejection
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	return WriteRejection(w, CodeUnauthenticated, message, 0)
}

// WriteForbidden writes a 403 forbidden rejection
func WriteForbidden(w http.ResponseWriter, message string) error {
	return WriteRejection(w, CodeForbidden, message, 0)
}

// WriteTooManyRequests writes a 429 throttled rejection
func WriteTooManyRequests(w http.ResponseWriter, message string, retryAfter int) error {
	return WriteRejection(w, CodeThrottled, message, retryAfter)
}
