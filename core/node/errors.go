package node

import "errors"

var (
	// ErrConnect is a terminal handshake or authorization failure. A
	// connection that fails this way is not retried; a new connection
	// object is required.
	ErrConnect = errors.New("node connect failed")

	// ErrSend is a command that could not be delivered, surfaced only
	// after the reconnect retry budget is exhausted.
	ErrSend = errors.New("node send failed")

	// ErrShutdown aborts in-flight operations when a connection or the
	// whole client is being torn down.
	ErrShutdown = errors.New("node connection shutting down")

	// ErrNoNodes is returned by the registry when no usable node exists
	// for routing.
	ErrNoNodes = errors.New("no nodes available")
)
