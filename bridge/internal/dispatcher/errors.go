package dispatcher

import "errors"

var (
	// ErrTransportUnavailable is returned for commands issued before the
	// bridge is ready or after it was disposed. No transport I/O happens.
	ErrTransportUnavailable = errors.New("dispatcher: transport unavailable")
	// ErrExternalResource wraps failures fetching or parsing an externally
	// referenced scene.
	ErrExternalResource = errors.New("dispatcher: external resource error")
	// ErrDisposed is the default reason pending requests are cancelled with.
	ErrDisposed = errors.New("dispatcher: disposed")
	// ErrInvalidArgument is returned for malformed command arguments.
	ErrInvalidArgument = errors.New("dispatcher: invalid argument")
)
