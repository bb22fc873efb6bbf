package session

import "errors"

// ErrNoMatchup is returned when a choice arrives while no matchup is presented.
var ErrNoMatchup = errors.New("no matchup presented")
