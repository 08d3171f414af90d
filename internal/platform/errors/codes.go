package errors

import "net/http"

// Code identifies an error class for logging, metrics, and transport mapping.
type Code string

const (
	// CodeInvalidArgument indicates malformed or missing caller input.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeCredentialInvalid indicates a malformed or signature-mismatched
	// resume credential. The caller must re-authenticate and rejoin.
	CodeCredentialInvalid Code = "CREDENTIAL_INVALID"
	// CodeCredentialExpired indicates a well-formed credential past its
	// expiry. Surfaced distinctly for telemetry; callers handle it exactly
	// like CodeCredentialInvalid.
	CodeCredentialExpired Code = "CREDENTIAL_EXPIRED"
	// CodeSessionNotFound indicates a credential whose backing session no
	// longer exists (revoked, swept, or never issued).
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	// CodeSequenceRegression indicates an acknowledgment below the stored
	// watermark. Diagnostic only; the operation itself is a no-op.
	CodeSequenceRegression Code = "SEQUENCE_REGRESSION"
	// CodeStorageUnavailable indicates a backing-store failure. Fatal to the
	// operation and never swallowed.
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
)

// HTTPStatus maps the error code to an HTTP response status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeCredentialInvalid, CodeCredentialExpired, CodeSessionNotFound:
		return http.StatusUnauthorized
	case CodeSequenceRegression:
		return http.StatusOK
	case CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ResumeRejected reports whether the code means the client must abandon its
// resume credential and rejoin through a fresh session issuance. The three
// rejection codes are intentionally indistinguishable at the call site.
func (c Code) ResumeRejected() bool {
	switch c {
	case CodeCredentialInvalid, CodeCredentialExpired, CodeSessionNotFound:
		return true
	default:
		return false
	}
}
