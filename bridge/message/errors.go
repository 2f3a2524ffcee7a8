package message

import "errors"

var (
	// ErrDecoding reports a malformed envelope or payload.
	ErrDecoding = errors.New("message: decoding error")
	// ErrEncoding reports a payload that cannot be carried losslessly.
	ErrEncoding = errors.New("message: encoding error")
	// ErrUnknownMessageType reports a type tag outside the known set.
	ErrUnknownMessageType = errors.New("message: unknown message type")
)
