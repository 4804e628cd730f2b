package model

import "errors"

var (
	// Audit log errors
	ErrLogEntryNotFound = errors.New("log entry not found")
	ErrNotRecoverable   = errors.New("log entry is not recoverable")
	ErrInvalidAction    = errors.New("invalid audit action")
	ErrPersistence      = errors.New("audit persistence failure")

	// Permission/Access related errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
