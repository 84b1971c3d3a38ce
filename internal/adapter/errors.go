package adapter

import (
	"errors"
)

var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when a record with the same identity already exists.
	ErrAlreadyExists = errors.New("resource already exists")
)
