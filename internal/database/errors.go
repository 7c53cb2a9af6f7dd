package database

import "errors"

var (
	// ErrAlreadyMarked is returned when an attendance record already exists
	// for the (identity, date, session) key.
	ErrAlreadyMarked = errors.New("attendance already marked")

	// ErrNotFound is returned by mutations that target a missing row.
	ErrNotFound = errors.New("not found")
)
