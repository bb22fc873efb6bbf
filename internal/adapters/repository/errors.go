package repository

import "errors"

// Sentinel kinds for rating table errors.
var (
	ErrNotFound      = errors.New("entity has no rating")
	ErrInvalidRecord = errors.New("invalid rating record")
)
