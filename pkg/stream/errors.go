package stream

import "errors"

var (
	// ErrTransport indicates the connection could not be established or was lost.
	ErrTransport = errors.New("stream transport error")
	// ErrProtocol indicates the stream was malformed or ended prematurely.
	ErrProtocol = errors.New("stream protocol error")
	// ErrRemote indicates the service aborted the run with an error message.
	ErrRemote = errors.New("remote service error")
)
