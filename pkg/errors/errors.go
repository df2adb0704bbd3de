package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")

	// ErrNotionalTooSmall names spec.md §7's "Notional-too-small on hedge"
	// taxonomy item explicitly, so Hedger can branch without string-matching
	// venue error messages inline.
	ErrNotionalTooSmall = errors.New("notional too small")

	// ErrUnknownOrder names spec.md §7's "Idempotent-cancel success" /
	// "Order-not-found on query" taxonomy items: cancelling or querying an
	// order the venue no longer recognizes.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrNotSupported is returned by optional VenueGateway operations
	// (e.g. InternalTransfer) an implementation does not back.
	ErrNotSupported = errors.New("operation not supported by venue")
)

// IsTransient reports whether err is a venue failure spec.md §7 classifies
// as retryable (network/timeout/rate-limit/5xx-style exchange overload).
func IsTransient(err error) bool {
	switch {
	case errors.Is(err, ErrNetwork),
		errors.Is(err, ErrRateLimitExceeded),
		errors.Is(err, ErrExchangeMaintenance),
		errors.Is(err, ErrSystemOverload):
		return true
	default:
		return false
	}
}

// IsNotionalTooSmall reports whether err is the hedge-side
// "notional too small" case spec.md §4.3 says must not be retried.
func IsNotionalTooSmall(err error) bool {
	return errors.Is(err, ErrNotionalTooSmall)
}

// IsUnknownOrder reports whether err represents a venue "order not found"
// response, treated as success on cancel and as a no-regression sentinel
// on query (spec.md §7).
func IsUnknownOrder(err error) bool {
	return errors.Is(err, ErrUnknownOrder) || errors.Is(err, ErrOrderNotFound)
}

// IsNotSupported reports whether err is a venue's declination of an
// optional VenueGateway operation (e.g. InternalTransfer).
func IsNotSupported(err error) bool {
	return errors.Is(err, ErrNotSupported)
}
