package storage

import "errors"

// ErrPositionNotFound is returned when a position id has no row.
var ErrPositionNotFound = errors.New("position not found")

// ErrInstrumentNotFound is returned when a trading symbol has no instrument key.
var ErrInstrumentNotFound = errors.New("instrument not found")

// ErrCredentialsNotFound is returned when a client has no credential row.
var ErrCredentialsNotFound = errors.New("credentials not found")
