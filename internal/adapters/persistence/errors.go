package persistence

import "errors"

// Sentinel kinds for snapshot errors.
var (
	ErrNoSnapshot      = errors.New("no snapshot saved")
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
)
