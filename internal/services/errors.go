package services

import "errors"

// Error taxonomy surfaced to the HTTP layer. Verification failures are not
// here on purpose: they are recovered locally (purchase flips back to
// pending) and reported as a verification_failed outcome, not an error.
var (
	// ErrInvalidInput covers malformed or below-minimum purchase requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound means the purchase id is unknown.
	ErrNotFound = errors.New("purchase not found")

	// ErrExpired means the payment deadline has passed.
	ErrExpired = errors.New("purchase expired")

	// ErrUnsupportedCurrency means no payment method is configured for the
	// requested currency. Configuration problem, not retryable.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrInsufficientTreasury means the treasury holds fewer tokens than requested.
	ErrInsufficientTreasury = errors.New("insufficient tokens in treasury")

	// ErrTransferFailed is terminal for the purchase; retrying a transfer
	// after an ambiguous failure risks a double-spend, so operator
	// intervention is required.
	ErrTransferFailed = errors.New("token transfer failed")

	// ErrUpstreamUnavailable wraps rate-source and executor outages. Retryable.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
