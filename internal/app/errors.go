package app

import "errors"

var (
	// ErrNegotiationProtocol: the transport connection rejected a
	// description or candidate. The session closes on this.
	ErrNegotiationProtocol = errors.New("negotiation protocol error")

	// ErrStaleEvent: a signaling event referenced a session that is
	// already closed or was never created. Swallowed at the event
	// boundary, logged only.
	ErrStaleEvent = errors.New("stale signaling event")

	ErrOwnUserID = errors.New("cannot create session for own user id")
)
