package pkg

import "errors"

// Cross-cutting errors shared by every package in this module. Each one is
// wrapped (via %w) by a specific construction or resolution failure
// elsewhere in the tree, so a caller can errors.Is against the general
// condition without caring which package raised it.
var (
	// ErrInvalidState indicates an operation was attempted from an invalid
	// state, such as a pcap record the replay state machine has no
	// transition for.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidRequest indicates an invalid or unsupported request, such as
	// a malformed ioctl request code supplied on the command line.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrBufferTooSmall indicates a client-resident region was found but does
	// not cover the full length requested of it.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrNotSupported indicates an unsupported operation or feature, such as
	// a pcap recording in a link-layer format this core cannot decode.
	ErrNotSupported = errors.New("not supported")

	// ErrInvalidParameter indicates an invalid parameter was provided, such
	// as a client address with no backing region at all.
	ErrInvalidParameter = errors.New("invalid parameter")
)
