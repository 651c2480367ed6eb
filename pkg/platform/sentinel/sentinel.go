package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and transports return these
// (optionally wrapped) so services can decide between retry, drop, and no-op
// without string matching.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrStaleState: conditional write lost, stored state no longer matches
// - ErrInvalidTransition: requested transition not legal from current state
// - ErrMalformedPayload: permanently unprocessable input
// - ErrUnknownEventType: event type outside the known set
// - ErrUnavailable: store or broker temporarily unavailable, safe to retry
var (
	ErrNotFound          = errors.New("not found")
	ErrStaleState        = errors.New("stale state")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrUnknownEventType  = errors.New("unknown event type")
	ErrUnavailable       = errors.New("unavailable")
)
