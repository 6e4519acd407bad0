package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Payments / webhooks
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrMalformedCorrelation = errors.New("malformed correlation token")
	ErrUnknownProvider      = errors.New("unknown payment provider")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrLockBusy             = errors.New("resource is locked by another worker")
	ErrRateLimited          = errors.New("rate limit exceeded")

	// Entitlements / usage
	ErrNoActivePackage    = errors.New("no active package")
	ErrAlreadyActivated   = errors.New("payment already activated a package")
	ErrIntegrityViolation = errors.New("more than one active package for user")
	ErrUsageExhausted     = errors.New("usage exhausted")
)
