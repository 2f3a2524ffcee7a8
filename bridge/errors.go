package bridge

import (
	"errors"

	"github.com/hazyhaar/sketchbridge/bridge/internal/correlation"
	"github.com/hazyhaar/sketchbridge/bridge/internal/dispatcher"
	"github.com/hazyhaar/sketchbridge/bridge/internal/export"
	"github.com/hazyhaar/sketchbridge/bridge/message"
)

var (
	// ErrDecoding reports a malformed envelope or payload.
	ErrDecoding = message.ErrDecoding
	// ErrUnknownMessageType reports an envelope type outside the protocol.
	ErrUnknownMessageType = message.ErrUnknownMessageType
	// ErrCorrelationMismatch reports a response for no pending request.
	ErrCorrelationMismatch = correlation.ErrCorrelationMismatch
	// ErrCancelled wraps the reason a pending request was abandoned.
	ErrCancelled = correlation.ErrCancelled
	// ErrTransportUnavailable is returned by commands issued when the
	// runtime cannot receive them.
	ErrTransportUnavailable = dispatcher.ErrTransportUnavailable
	// ErrExternalResource wraps resource fetch and parse failures.
	ErrExternalResource = dispatcher.ErrExternalResource
	// ErrInvalidArgument reports a bad command argument.
	ErrInvalidArgument = dispatcher.ErrInvalidArgument
	// ErrUnknownFormat reports an export format outside ExportFormats.
	ErrUnknownFormat = export.ErrUnknownFormat

	// ErrReloaded is the cancellation reason for requests orphaned by a
	// runtime reload.
	ErrReloaded = errors.New("bridge: runtime reloaded")
	// ErrNotStarted is returned before Start.
	ErrNotStarted = errors.New("bridge: not started")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("bridge: stopped")
)
