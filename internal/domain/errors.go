package domain

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInferenceFailure   = errors.New("inference failure")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotFound           = errors.New("not found")
	ErrMalformedSnapshot  = errors.New("malformed snapshot")
	ErrPublicationFailure = errors.New("publication failure")

	// ErrPublishDenied is joined with ErrPublicationFailure when the publish
	// policy rejects a session.
	ErrPublishDenied = errors.New("publish denied by policy")
)

// Error codes reported to API clients.
const (
	CodeInvalidInput       = "invalid_input"
	CodeInferenceFailure   = "inference_failure"
	CodeStorageUnavailable = "storage_unavailable"
	CodeNotFound           = "not_found"
	CodeMalformedSnapshot  = "malformed_snapshot"
	CodePublicationFailure = "publication_failure"
	CodePublishDenied      = "publish_denied"
	CodeInternal           = "internal_error"
)

// Classify returns the error code for err. More specific kinds are checked first.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPublishDenied):
		return CodePublishDenied
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrMalformedSnapshot):
		return CodeMalformedSnapshot
	case errors.Is(err, ErrInferenceFailure):
		return CodeInferenceFailure
	case errors.Is(err, ErrPublicationFailure):
		return CodePublicationFailure
	case errors.Is(err, ErrStorageUnavailable):
		return CodeStorageUnavailable
	}
	return CodeInternal
}

// Retryable reports whether the caller may safely retry the failed operation.
func Retryable(err error) bool {
	switch Classify(err) {
	case CodeInferenceFailure, CodePublicationFailure, CodeStorageUnavailable:
		return true
	}
	return false
}
