package catalog

import "errors"

// Sentinel kinds for catalog errors.
var (
	ErrInvalidEntity   = errors.New("invalid catalog entity")
	ErrDuplicateEntity = errors.New("duplicate catalog entity")
	ErrLoadCatalog     = errors.New("load catalog failed")
)
