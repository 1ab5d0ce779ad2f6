package replay

import "errors"

// ErrUnsupportedEventType is the panic value raised by the matcher on any
// pcap record whose event type is neither 'S' nor 'C'. 'E' (error) records
// are the only other event type the recording format defines; treating one
// as an assertion failure rather than a graceful error is intentional — it
// mirrors the source behaviour this core reproduces, and a recording that
// contains one is, by this core's non-goals, unsupported.
var ErrUnsupportedEventType = errors.New("replay: unsupported pcap event type")

// errStartFrameAsserted is the panic value raised when a completion record
// carries a non-zero start_frame. Isochronous replay (the only transfer
// type that legitimately uses start_frame) is a non-goal; until it is
// added, this assertion stands exactly as the source it replaces enforced.
var errStartFrameAsserted = errors.New("replay: non-zero start_frame on completion record")
