package memview

// Client is the ioctl-transport collaborator the replay dispatcher depends
// on: one per intercepted ioctl call, bound to that call's request code and
// argument pointer.
type Client interface {
	// Request returns the ioctl request code the client invoked.
	Request() uint64

	// Arg returns the client-side address of the ioctl argument — the
	// third argument to ioctl(2) as the traced process saw it.
	Arg() uint64

	// Resolve returns a view over [addr, addr+length) in client address
	// space. addr is always an absolute client address, never an offset
	// relative to some other view.
	Resolve(addr, length uintptr, readable, writable bool) (View, error)

	// Complete delivers the ioctl's return value and positive-errno
	// completion code back to the client.
	Complete(ret int32, errno int32)
}

// View is a live window onto a range of client memory.
type View interface {
	// Bytes returns the view's backing bytes. Mutating the returned slice
	// mutates client memory once Dirty is called (PtraceClient) or
	// immediately (FakeClient, whose Bytes already alias the arena).
	Bytes() []byte

	// ClientAddr returns the absolute client address this view starts at.
	ClientAddr() uint64

	// SetPtr writes target's client address, as a little-endian uint64,
	// into this view at offset. Used when constructing outbound
	// structures containing pointers the client will dereference.
	SetPtr(offset uintptr, target View)

	// Dirty marks the view as needing writeback to the client. If
	// recursive is true, any views reachable through a prior SetPtr call
	// on this view are marked dirty too.
	Dirty(recursive bool)
}
