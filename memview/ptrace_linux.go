//go:build linux

package memview

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbioctlreplay/pkg"
)

// Attach PTRACE_ATTACHes to pid, stopping it so its address space can be
// read and written through a PtraceClient. The caller must Detach when
// finished.
func Attach(pid int) error {
	if err := unix.PtraceAttach(pid); err != nil {
		return fmt.Errorf("memview: attach pid %d: %w", pid, err)
	}
	return nil
}

// Detach releases a process previously Attach'd, letting it run freely
// again.
func Detach(pid int) error {
	if err := unix.PtraceDetach(pid); err != nil {
		return fmt.Errorf("memview: detach pid %d: %w", pid, err)
	}
	return nil
}

// PtraceClient resolves views against the address space of a traced
// process, batched into PEEKDATA/POKEDATA calls. It is the reference "real"
// transport-side collaborator: how the ioctl request number and argument
// pointer were captured from pid in the first place is left to the caller,
// per the core's out-of-scope ioctl-interception boundary.
type PtraceClient struct {
	pid     int
	request uint64
	arg     uint64
}

// NewPtraceClient returns a client bound to one intercepted ioctl call on
// an already-attached pid.
func NewPtraceClient(pid int, request, arg uint64) *PtraceClient {
	return &PtraceClient{pid: pid, request: request, arg: arg}
}

func (c *PtraceClient) Request() uint64 { return c.request }
func (c *PtraceClient) Arg() uint64     { return c.arg }

// Resolve peeks length bytes at addr out of the traced process when
// readable is set. Unreadable views (readable=false, writable=true) start
// zero-filled, since nothing will ever read from them before Dirty flushes
// a write.
func (c *PtraceClient) Resolve(addr, length uintptr, readable, writable bool) (View, error) {
	buf := make([]byte, length)
	if readable {
		n, err := unix.PtracePeekData(c.pid, addr, buf)
		if err != nil {
			return nil, fmt.Errorf("memview: peek pid %d addr %#x: %w", c.pid, addr, err)
		}
		if n != len(buf) {
			return nil, fmt.Errorf("memview: short peek pid %d addr %#x: got %d of %d bytes", c.pid, addr, n, len(buf))
		}
	}
	return &ptraceView{client: c, addr: uint64(addr), buf: buf, writable: writable}, nil
}

// Complete is a no-op here: writing the ioctl return value and errno back
// into the traced process's syscall return registers is the job of the
// out-of-scope transport that intercepted the call.
func (c *PtraceClient) Complete(ret int32, errno int32) {
	pkg.LogDebug(pkg.ComponentMemView, "ioctl completed", "pid", c.pid, "ret", ret, "errno", errno)
}

type ptraceView struct {
	client   *PtraceClient
	addr     uint64
	buf      []byte
	writable bool
	ptrs     []View
}

func (v *ptraceView) Bytes() []byte      { return v.buf }
func (v *ptraceView) ClientAddr() uint64 { return v.addr }

func (v *ptraceView) SetPtr(offset uintptr, target View) {
	binary.LittleEndian.PutUint64(v.buf[offset:], target.ClientAddr())
	v.ptrs = append(v.ptrs, target)
}

// Dirty pokes this view's bytes back into the traced process if it was
// resolved writable, then recurses into any views linked by SetPtr.
func (v *ptraceView) Dirty(recursive bool) {
	if v.writable {
		n, err := unix.PtracePokeData(v.client.pid, uintptr(v.addr), v.buf)
		if err != nil {
			pkg.LogWarn(pkg.ComponentMemView, "ptrace poke failed", "pid", v.client.pid, "addr", v.addr, "error", err)
		} else if n != len(v.buf) {
			pkg.LogWarn(pkg.ComponentMemView, "short ptrace poke", "pid", v.client.pid, "addr", v.addr, "wrote", n, "want", len(v.buf))
		}
	}
	if recursive {
		for _, t := range v.ptrs {
			t.Dirty(true)
		}
	}
}

var (
	_ Client = (*PtraceClient)(nil)
	_ View   = (*ptraceView)(nil)
)
