package memview

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbioctlreplay/pkg"
)

// fakeBase is the first synthetic client address Alloc hands out. Chosen
// well clear of zero so a zero-valued client address always means
// "no pointer" in tests, matching real USB client code.
const fakeBase = 0x1000

// FakeClient is an in-process byte arena standing in for a traced client
// process. It backs every table and property test in the replay package,
// and cmd/usb-replay's -dry-run mode, the way the teacher's hal/fifo package
// stands in for real controller hardware: no real device access is needed
// to exercise the state machine under test.
type FakeClient struct {
	request uint64
	arg     uint64

	regions map[uint64][]byte // client address -> backing bytes
	next    uint64

	completed bool
	ret       int32
	errno     int32
}

// NewFakeClient returns a client bound to the given ioctl request code,
// with no argument allocated yet. Call Alloc to create client-resident
// structures, then SetArg to bind one as the ioctl argument.
func NewFakeClient(request uint64) *FakeClient {
	return &FakeClient{
		request: request,
		regions: make(map[uint64][]byte),
		next:    fakeBase,
	}
}

// Alloc reserves size bytes of client-resident memory and returns its
// synthetic client address. The returned region is zero-filled.
func (c *FakeClient) Alloc(size int) uint64 {
	addr := c.next
	c.regions[addr] = make([]byte, size)
	c.next += uint64(size)
	// Keep allocations from ever abutting exactly, so a bug that reads past
	// one region's end lands in a gap rather than silently into the next.
	c.next += 16
	return addr
}

// SetArg binds addr as the ioctl argument returned by Arg.
func (c *FakeClient) SetArg(addr uint64) {
	c.arg = addr
}

// SetRequest changes the ioctl request code Request reports, letting a test
// drive the same client through more than one ioctl.
func (c *FakeClient) SetRequest(request uint64) {
	c.request = request
	c.completed = false
}

// At returns the raw backing bytes for a previously-Alloc'd address, for
// tests to populate or inspect directly without going through Resolve.
func (c *FakeClient) At(addr uint64) []byte {
	return c.regions[addr]
}

// PutUint64 writes a little-endian uint64 field into the region at addr,
// at the given offset. A convenience for building usb_devfs_urb fixtures.
func (c *FakeClient) PutUint64(addr uint64, offset uintptr, v uint64) {
	binary.LittleEndian.PutUint64(c.regions[addr][offset:], v)
}

// PeekUint64 reads a little-endian uint64 field out of the region at addr,
// at the given offset. A convenience for asserting on fixtures in tests.
func (c *FakeClient) PeekUint64(addr uint64, offset uintptr) uint64 {
	return binary.LittleEndian.Uint64(c.regions[addr][offset:])
}

func (c *FakeClient) Request() uint64 { return c.request }
func (c *FakeClient) Arg() uint64     { return c.arg }

// Resolve returns a view over the region containing [addr, addr+length). It
// fails if no Alloc'd region covers that entire range.
func (c *FakeClient) Resolve(addr, length uintptr, readable, writable bool) (View, error) {
	base, region, err := c.findRegion(uint64(addr), length)
	if err != nil {
		return nil, err
	}
	off := uint64(addr) - base
	return &fakeView{
		client: c,
		addr:   uint64(addr),
		buf:    region[off : off+uint64(length)],
	}, nil
}

func (c *FakeClient) findRegion(addr uint64, length uintptr) (uint64, []byte, error) {
	covering := false
	for base, region := range c.regions {
		end := base + uint64(len(region))
		if addr < base || addr > end {
			continue
		}
		covering = true
		if addr+uint64(length) <= end {
			return base, region, nil
		}
	}
	if covering {
		return 0, nil, fmt.Errorf("%w: client address %#x length %d runs past its region", pkg.ErrBufferTooSmall, addr, length)
	}
	return 0, nil, fmt.Errorf("%w: no region covers client address %#x", pkg.ErrInvalidParameter, addr)
}

// Complete records the completion code for test assertions.
func (c *FakeClient) Complete(ret int32, errno int32) {
	c.completed = true
	c.ret = ret
	c.errno = errno
}

// Completed reports whether Complete has been called since construction or
// the last SetRequest, and with what values.
func (c *FakeClient) Completed() (ret int32, errno int32, ok bool) {
	return c.ret, c.errno, c.completed
}

// fakeView is a View backed directly by a slice of a FakeClient region. Its
// Bytes already alias the arena, so writes are visible immediately; Dirty
// is tracked only so tests can assert on write-back behavior.
type fakeView struct {
	client *FakeClient
	addr   uint64
	buf    []byte
	dirty  bool
	ptrs   []View
}

func (v *fakeView) Bytes() []byte    { return v.buf }
func (v *fakeView) ClientAddr() uint64 { return v.addr }

func (v *fakeView) SetPtr(offset uintptr, target View) {
	binary.LittleEndian.PutUint64(v.buf[offset:], target.ClientAddr())
	v.ptrs = append(v.ptrs, target)
}

func (v *fakeView) Dirty(recursive bool) {
	v.dirty = true
	if recursive {
		for _, t := range v.ptrs {
			t.Dirty(true)
		}
	}
}

// IsDirty reports whether Dirty has been called on this view, for test
// assertions.
func (v *fakeView) IsDirty() bool { return v.dirty }

var _ Client = (*FakeClient)(nil)
var _ View = (*fakeView)(nil)
