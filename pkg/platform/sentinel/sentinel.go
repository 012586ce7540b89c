// Package sentinel holds the infrastructure facts contact and outbox stores
// report. Services match them with errors.Is and translate them into coded
// domain errors; transports never see them directly.
package sentinel

import "errors"

var (
	// ErrNotFound: no live row with that ID. Soft-deleted rows count as absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict: the transaction lost a serialization race and its retries ran out.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable: a backing service (database, lock server) cannot be reached.
	ErrUnavailable = errors.New("unavailable")
)
