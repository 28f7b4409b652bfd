package bridge

import "errors"

// ErrChannelDown reports that the worker channel is closed or its transport
// has failed; no further requests can be delivered on it.
var ErrChannelDown = errors.New("worker channel down")

// EngineError is an application-level failure the engine reported through
// the normal response contract. The message is user-facing and surfaced
// verbatim.
type EngineError struct {
	Message string
}

func (e *EngineError) Error() string {
	if e == nil || e.Message == "" {
		return "engine error"
	}
	return e.Message
}

// ChannelFault is a channel-level failure: the engine panicked, broke the
// response contract, or the transport produced something unusable. Detail is
// diagnostic only and never shown to end users.
type ChannelFault struct {
	Detail string
}

func (e *ChannelFault) Error() string {
	return "worker channel fault: " + e.Detail
}
