package lib

import "errors"

// Error kinds from the internal taxonomy. These are never wire-visible on
// their own; propagation policy (local discard vs. ARO status) lives in the
// handlers that return them.
var (
	// ErrMalformed is returned when an ND message's fixed part is shorter
	// than its type requires, or a buffer is too short to hold it.
	ErrMalformed = errors.New("ndsec: malformed message")

	// ErrMalformedOption is returned for a structurally invalid option: a
	// declared length of zero, a length running past the buffer, or (for
	// the ARO) a length/status combination the wire format forbids.
	ErrMalformedOption = errors.New("ndsec: malformed option")

	// ErrReplayRejected is returned when an incoming Nonce does not compare
	// strictly greater than the last-seen counter for the peer.
	ErrReplayRejected = errors.New("ndsec: nonce replay rejected")

	// ErrAuthFailed is returned when a recomputed Authentication tag does
	// not match the one carried on the wire.
	ErrAuthFailed = errors.New("ndsec: authentication failed")

	// ErrNoSpace is returned by table insertion when no matching entry and
	// no free slot exist.
	ErrNoSpace = errors.New("ndsec: table full")

	// ErrSendFailed wraps a failure from the Network collaborator.
	ErrSendFailed = errors.New("ndsec: send failed")
)
