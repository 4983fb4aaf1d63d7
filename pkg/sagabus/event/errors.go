package event

import "errors"

// ErrBusShutdown is returned by Publish once Shutdown has begun.
var ErrBusShutdown = errors.New("event bus is shut down")
