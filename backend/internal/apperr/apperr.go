// Package apperr holds the error taxonomy shared by the trade engine, the
// ledger, the account store and the session protocol.
//
// Errors are wrapped with fmt.Errorf and matched with errors.Is, e.g.
//
//	return fmt.Errorf("%w: quantity must be positive", apperr.ErrValidation)
package apperr

import "errors"

var (
	// ErrProtocol covers malformed frames, unknown command tags and truncated streams.
	ErrProtocol = errors.New("protocol error")
	// ErrValidation covers bad input rejected before any lookup or mutation.
	ErrValidation = errors.New("validation error")
	// ErrNotFound covers unknown users, assets and positions.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientBalance is returned when a trade exceeds the available position.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrCollaborator covers price oracle and account store I/O failures.
	ErrCollaborator = errors.New("collaborator failure")
	// ErrPersistence is returned when a mutation touches an unexpected number of rows.
	ErrPersistence = errors.New("persistence error")
)

// IsExpected reports whether err is an outcome the caller should see as a
// structured failure rather than an internal error.
func IsExpected(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInsufficientBalance)
}
