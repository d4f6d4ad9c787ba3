package shared

import "errors"

// Protocol version constant
const ProtocolVersion = 1

// Error types for protocol validation
var (
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrMissingType        = errors.New("missing required field: type")
	ErrMissingTimestamp   = errors.New("missing required field: timestamp")
	ErrInvalidPayload     = errors.New("invalid payload")
)

// EventType names a frame on the viewer live channel.
type EventType string

const (
	EventTypeInitialStatus EventType = "initial-status"
	EventTypeStatusUpdate  EventType = "status-update"
	EventTypeLogUpdate     EventType = "log-update"
)
