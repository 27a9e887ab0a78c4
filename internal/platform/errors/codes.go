// Package errors provides structured error handling for the ingest core.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeValidation covers malformed input, missing required fields, and
	// parse failures. Nothing is persisted.
	CodeValidation Code = "VALIDATION"

	// CodeAuthFailure covers player-not-found and account hash mismatches.
	CodeAuthFailure Code = "AUTH_FAILURE"

	// CodeAuthDataInsufficient indicates the submitted account hash is too
	// short to identify a player.
	CodeAuthDataInsufficient Code = "AUTH_DATA_INSUFFICIENT"

	// CodeDuplicate indicates a dedup cache or uniqueness-constraint hit.
	CodeDuplicate Code = "DUPLICATE"

	// CodeUnknownReference indicates an item or NPC the system does not know.
	CodeUnknownReference Code = "UNKNOWN_REFERENCE"

	// CodeDropUnverified indicates the external service denied the
	// item/NPC pairing for a high-value drop.
	CodeDropUnverified Code = "DROP_UNVERIFIED"

	// CodeTransientUpstream indicates an external service timeout or error.
	CodeTransientUpstream Code = "TRANSIENT_UPSTREAM"

	// CodeInsufficientPoints indicates a feature activation could not be
	// fully funded from eligible credits.
	CodeInsufficientPoints Code = "INSUFFICIENT_POINTS"

	// CodeNotFound indicates a requested record is missing.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInternal indicates an invariant violation.
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps domain codes to transport status codes. Auth failures and
// duplicates intentionally surface as 200 soft responses so that rejected
// submissions cannot be used to probe for registered names.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation, CodeAuthDataInsufficient:
		return http.StatusBadRequest
	case CodeAuthFailure, CodeDuplicate, CodeUnknownReference:
		return http.StatusOK
	case CodeDropUnverified:
		return http.StatusUnprocessableEntity
	case CodeTransientUpstream:
		return http.StatusBadGateway
	case CodeInsufficientPoints:
		return http.StatusPaymentRequired
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Retriable reports whether the client may safely resubmit.
func (c Code) Retriable() bool {
	return c == CodeTransientUpstream
}
