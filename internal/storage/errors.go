package storage

import "errors"

// ErrPositionNotFound is returned when a position id is not in the store.
var ErrPositionNotFound = errors.New("position not found")

// ErrDuplicatePosition is returned when adding an id that already exists.
var ErrDuplicatePosition = errors.New("position already exists")
