package notify

import "errors"

// ErrUnconfigured is returned when a watch/global config names no
// channel to deliver through.
var ErrUnconfigured = errors.New("notify: no channel configured")

// ErrTransport wraps any delivery failure from a channel's backend.
var ErrTransport = errors.New("notify: transport error")
