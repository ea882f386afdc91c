package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrTestCompleted        ErrCode = "TEST_COMPLETED"
	ErrNoStations           ErrCode = "NO_STATIONS"
	ErrSessionNotFound      ErrCode = "SESSION_NOT_FOUND"
	ErrSessionBusy          ErrCode = "SESSION_BUSY"
	ErrConfirmationRequired ErrCode = "CONFIRMATION_REQUIRED"
	ErrSubmissionFailed     ErrCode = "SUBMISSION_FAILED"

	// ─── Upstream / proxy ──────────────────────────────────────────────
	ErrUpstreamUnavailable ErrCode = "UPSTREAM_UNAVAILABLE"
	ErrImageFetchFailed    ErrCode = "IMAGE_FETCH_FAILED"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrTestCompleted:
		return "You have already completed this test."
	case ErrNoStations:
		return "No stations available for this test."
	case ErrSessionNotFound:
		return "No active test session. Begin the test first."
	case ErrSessionBusy:
		return "The session is loading. Try again in a moment."
	case ErrConfirmationRequired:
		return "Moving on means you cannot return to this station. Confirm to continue."
	case ErrSubmissionFailed:
		return "Submitting the test failed. Your answers are kept; reload to retry."
	case ErrUpstreamUnavailable:
		return "The question service is unreachable. Please try again."
	case ErrImageFetchFailed:
		return "Failed to fetch the requested image."
	case ErrNotFound:
		return "Resource not found."
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
