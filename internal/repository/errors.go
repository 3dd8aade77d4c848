package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrAlreadyExists indicates a record with the same identifier exists.
	ErrAlreadyExists = errors.New("repository: already exists")
)
