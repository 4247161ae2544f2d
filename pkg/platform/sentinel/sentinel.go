package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, chain adapters and
// transports return these (optionally wrapped) so services can translate them
// into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store / no live session registered
// - ErrConflict: conditional write lost against a concurrent writer
// - ErrExpired: challenge/session has aged past its window
// - ErrLowFunds: chain writer cannot fund another sealing transaction
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, malformed envelopes), use
// pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrLowFunds     = errors.New("low funds")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
