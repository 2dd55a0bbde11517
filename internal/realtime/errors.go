package realtime

import "errors"

var (
	// ErrAuthenticationFailed terminates a handshake before the session ever
	// touches the registry.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrNotAMember rejects a join_group command for a group the user has no
	// durable membership in. The session stays active.
	ErrNotAMember = errors.New("not a member of group")

	// ErrClientDisconnected is returned when enqueueing to a session that has
	// already entered Closing.
	ErrClientDisconnected = errors.New("client disconnected")

	// ErrBackpressure reports an outbound queue overflow that could not be
	// relieved by dropping control frames.
	ErrBackpressure = errors.New("outbound queue overflow")

	// ErrBrokerUnavailable wraps publish/subscribe failures. Local state is
	// still applied; the bus is an acceleration layer, not the source of truth.
	ErrBrokerUnavailable = errors.New("broker unavailable")
)
