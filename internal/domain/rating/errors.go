package rating

import "errors"

// ErrInvalidDecision is returned for self-matchups and ids missing from the catalog.
var ErrInvalidDecision = errors.New("invalid decision")
