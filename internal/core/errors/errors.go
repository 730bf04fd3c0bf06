package errors

const (
	HttpInternalError       = "internal_error"
	HttpInvalidJsonError    = "invalid_json"
	HttpUnknownVerbError    = "unknown_verb"
	HttpValidationError     = "event_validation_failed"
	HttpDuplicateEventError = "duplicate_event"
	HttpNotFoundError       = "not_found"
)

// ErrorResponse is the error response body for API errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
