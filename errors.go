package kto

import "errors"

// ErrDuplicateName is returned when a watch name collides with an
// existing watch (re-exported from internal/store).
var ErrDuplicateName = errors.New("kto: watch name already exists")

// ErrNotFound is returned when a lookup by ID/name finds nothing.
var ErrNotFound = errors.New("kto: not found")

// ErrInvalidConfig is returned when the TOML config file fails to
// parse or contains an out-of-range value (spec.md §6).
var ErrInvalidConfig = errors.New("kto: invalid configuration")
