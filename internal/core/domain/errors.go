package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
// Codes follow the BP-<AREA>-<NNNN> layout; the last four digits carry an
// HTTP-like class (4xxx caller error, 5xxx engine error).
type DomainError struct {
	Code    string // Error code (e.g., "BP-BNDL-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true // Only check if it's a DomainError
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsRetryable reports whether the caller may retry the failed operation
// unchanged, e.g. after space has been reclaimed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInsufficientSpace) || errors.Is(err, ErrTxnConflict)
}

// ============================================================================
// Bundle Errors (BNDL)
// ============================================================================

var (
	// ErrBundleNotFound indicates no bundle with the requested identity exists.
	ErrBundleNotFound = NewDomainError("BP-BNDL-4040", "bundle not found")

	// ErrMalformedBundle indicates the raw bytes could not be decoded.
	ErrMalformedBundle = NewDomainError("BP-BNDL-4000", "malformed bundle")

	// ErrMalformedEID indicates an endpoint identifier could not be parsed.
	ErrMalformedEID = NewDomainError("BP-BNDL-4001", "malformed endpoint id")

	// ErrMalformedBlock indicates an extension block failed validation.
	ErrMalformedBlock = NewDomainError("BP-BNDL-4002", "malformed extension block")

	// ErrMalformedAdminRecord indicates an admin record payload could not be decoded.
	ErrMalformedAdminRecord = NewDomainError("BP-BNDL-4003", "malformed admin record")

	// ErrDuplicateBundle indicates a bundle with the same identity is already stored.
	ErrDuplicateBundle = NewDomainError("BP-BNDL-4090", "duplicate bundle")
)

// ============================================================================
// Storage Errors (STOR)
// ============================================================================

var (
	// ErrStorageError indicates a storage layer error.
	ErrStorageError = NewDomainError("BP-STOR-5001", "storage error")

	// ErrInsufficientSpace indicates the store quota would be exceeded.
	// Callers may retry once space is released.
	ErrInsufficientSpace = NewDomainError("BP-STOR-5070", "insufficient space")

	// ErrTxnConflict indicates the transaction lost a conflict and was not applied.
	ErrTxnConflict = NewDomainError("BP-STOR-5090", "transaction conflict, please retry")

	// ErrPayloadNotFound indicates the payload handle is unknown.
	ErrPayloadNotFound = NewDomainError("BP-STOR-4040", "payload not found")
)

// ============================================================================
// Routing Errors (ROUT)
// ============================================================================

var (
	// ErrNoRoute indicates no plan could be selected for the destination.
	ErrNoRoute = NewDomainError("BP-ROUT-4040", "no route to destination")

	// ErrPlanNotFound indicates the plan does not exist.
	ErrPlanNotFound = NewDomainError("BP-ROUT-4041", "plan not found")

	// ErrPlanExists indicates a plan for the neighbor already exists.
	ErrPlanExists = NewDomainError("BP-ROUT-4090", "plan already exists")
)

// ============================================================================
// Duct Errors (DUCT)
// ============================================================================

var (
	// ErrDuctNotFound indicates the duct does not exist.
	ErrDuctNotFound = NewDomainError("BP-DUCT-4040", "duct not found")

	// ErrDuctExists indicates a duct with this name already exists.
	ErrDuctExists = NewDomainError("BP-DUCT-4090", "duct already exists")

	// ErrDuctBusy indicates another daemon is already attached to the duct.
	ErrDuctBusy = NewDomainError("BP-DUCT-4091", "duct already attached")

	// ErrDuctClosed indicates the duct's semaphore has been ended.
	ErrDuctClosed = NewDomainError("BP-DUCT-4100", "duct closed")

	// ErrMalformedFrame indicates a duct protocol frame failed validation.
	ErrMalformedFrame = NewDomainError("BP-DUCT-4000", "malformed duct frame")
)

// ============================================================================
// Endpoint Errors (EP)
// ============================================================================

var (
	// ErrEndpointNotOpen indicates the endpoint is not registered locally.
	ErrEndpointNotOpen = NewDomainError("BP-EP-4040", "endpoint not open")

	// ErrEndpointBusy indicates the endpoint is already opened by another caller.
	ErrEndpointBusy = NewDomainError("BP-EP-4090", "endpoint already open")

	// ErrEndpointNotLocal indicates the endpoint does not belong to this node.
	ErrEndpointNotLocal = NewDomainError("BP-EP-4001", "endpoint is not local")
)

// ============================================================================
// Contact Plan Errors (CPLN)
// ============================================================================

var (
	// ErrContactNotFound indicates the contact does not exist.
	ErrContactNotFound = NewDomainError("BP-CPLN-4040", "contact not found")

	// ErrRangeNotFound indicates the range does not exist.
	ErrRangeNotFound = NewDomainError("BP-CPLN-4041", "range not found")

	// ErrContactOverlap indicates the contact overlaps an existing one for the same node pair.
	ErrContactOverlap = NewDomainError("BP-CPLN-4090", "contact overlaps existing contact")

	// ErrRangeOverlap indicates the range overlaps an existing one for the same node pair.
	ErrRangeOverlap = NewDomainError("BP-CPLN-4091", "range overlaps existing range")

	// ErrContactNotRevised indicates an insert collided with a contact that differs
	// only in rate or confidence; use revise instead.
	ErrContactNotRevised = NewDomainError("BP-CPLN-4092", "contact exists, not revised")

	// ErrMalformedNotice indicates a contact notice could not be decoded.
	ErrMalformedNotice = NewDomainError("BP-CPLN-4000", "malformed contact notice")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrInternal indicates an unexpected engine failure.
	ErrInternal = NewDomainError("BP-SYS-5000", "internal error")

	// ErrNotInitialized indicates required administrative setup is missing.
	ErrNotInitialized = NewDomainError("BP-SYS-5030", "node not initialized")

	// ErrStoreUnavailable indicates the store could not be opened.
	ErrStoreUnavailable = NewDomainError("BP-SYS-5031", "store unavailable")

	// ErrShuttingDown indicates the engine is stopping and refuses new work.
	ErrShuttingDown = NewDomainError("BP-SYS-5032", "engine shutting down")

	// ErrRateLimited indicates too many requests.
	ErrRateLimited = NewDomainError("BP-SYS-4290", "too many requests")
)

// ============================================================================
// Admin API Errors (AUTH)
// ============================================================================

var (
	// ErrUnauthorized indicates a missing or wrong admin token.
	ErrUnauthorized = NewDomainError("BP-AUTH-4010", "authentication required")

	// ErrForbidden indicates the client address is not allowed.
	ErrForbidden = NewDomainError("BP-AUTH-4030", "client not allowed")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("BP-ARG-1001", "invalid argument")

	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("BP-ARG-1002", "missing required argument")
)
