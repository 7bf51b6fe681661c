// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package). Pairing transition
// refusals additionally use the outcome strings of the pairing store
// ("already_requesting", "operator_operating", …) as their code, so clients
// can branch on the exact business outcome.
//
// Conventions:
//   - Codes are lowercase, snake_case.
//   - Generic codes (bad_request, not_found, conflict, …) mirror common HTTP
//     status semantics to aid interoperability.
//   - Storage faults always map to internal_error; the details stay in the
//     server logs, never in the response body.
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
