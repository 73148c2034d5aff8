// Package apperr defines the sentinel errors shared across the workflow engine.
package apperr

import "errors"

var (
	// ErrNotFound is returned when a record is absent from the expected stage.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateIdentity is returned when a record identity already exists
	// in some stage collection.
	ErrDuplicateIdentity = errors.New("duplicate identity")
	// ErrInvalidPlan is returned when a plan is created with no steps.
	ErrInvalidPlan = errors.New("invalid plan")
	// ErrOutOfRange is returned when a plan step index does not exist.
	ErrOutOfRange = errors.New("step index out of range")
	// ErrInvalidAction is returned when a proposed action fails gate validation.
	ErrInvalidAction = errors.New("invalid action")
	// ErrExpired is returned when a pending approval is read past its expiry.
	ErrExpired = errors.New("approval expired")
	// ErrNotPending is returned when resolving a request that is no longer
	// awaiting a decision.
	ErrNotPending = errors.New("request not pending")
)
