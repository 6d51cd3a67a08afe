package httpmodel

import "fmt"

// ErrNoServerAtPort is returned by Registry.Dispatch when no VirtualServer
// is registered at the requested port — the bridge-facing analogue of a
// connection-refused error.
var ErrNoServerAtPort = fmt.Errorf("httpmodel: no server registered at port")

// ErrHandlerTimeout is returned when a handler invocation exceeds its
// bounded execution deadline.
var ErrHandlerTimeout = fmt.Errorf("httpmodel: handler execution timed out")
