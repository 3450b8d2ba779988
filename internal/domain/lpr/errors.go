package lpr

import "errors"

var (
	// ErrDuplicateEntry means a ledger write was rejected because an entry
	// for the same plate read already exists. Callers treat it as a no-op,
	// not a failure.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")

	ErrNotFound = errors.New("not found")
)
