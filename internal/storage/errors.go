package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyResolved is returned when a resolving decision is recorded
// for a fragment that already has one. Decisions are immutable; a
// fragment is resolved at most once.
var ErrAlreadyResolved = errors.New("storage: fragment already resolved")

// ErrInvalidChangeSelection is returned when a decision accepts or
// rejects changes that do not belong to the interpretation (or staged
// change set) it resolves.
var ErrInvalidChangeSelection = errors.New("storage: change selection does not match interpretation")

// ErrWrongStatus is returned when an operation requires the fragment
// to be in a particular analysis status and it is not.
var ErrWrongStatus = errors.New("storage: fragment in wrong status for operation")
