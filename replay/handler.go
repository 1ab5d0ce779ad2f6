package replay

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ardnew/usbioctlreplay/memview"
	"github.com/ardnew/usbioctlreplay/pcapusb"
	"github.com/ardnew/usbioctlreplay/pkg"
	"github.com/ardnew/usbioctlreplay/usbfs"
)

// Option configures a Handler at construction.
type Option func(*Handler)

// WithClock overrides the wall clock the stuck detector samples. Tests use
// this to drive the detector deterministically.
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) { h.clock = clock }
}

// WithInstanceID tags every stuck-detector log line this Handler emits with
// id, so a caller driving several recordings in the same process (or the
// same recording across repeated test runs) can tell their log lines apart.
// Callers that don't care leave the generated default in place.
func WithInstanceID(id string) Option {
	return func(h *Handler) { h.instanceID = id }
}

// Handler answers usbdevfs ioctls for one (bus, device) pair by replaying a
// pcap recording. It is not safe for concurrent Handle calls: the ioctl
// transport is expected to serialize delivery, the same single-threaded
// contract the teacher's HostHAL implementations are held to.
type Handler struct {
	bus        uint16
	device     uint8
	clock      func() time.Time
	instanceID string

	queue    urbQueue
	discards discardList
	matcher  *matcher

	closer func() error
}

// New opens the pcap recording at path and constructs a Handler filtering
// on (bus, device). It fails if the recording's link type is not
// DLT_USB_LINUX_MMAPPED.
func New(path string, bus uint16, device uint8, opts ...Option) (*Handler, error) {
	src, err := pcapusb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open recording: %w", err)
	}
	return newHandler(src, src.Close, bus, device, opts...), nil
}

// NewFromSource builds a Handler over an already-opened record source (for
// example an in-memory pcapusb.MemorySource used by tests). The caller
// retains ownership of source; Close is a no-op.
func NewFromSource(source pcapusb.RecordSource, bus uint16, device uint8, opts ...Option) *Handler {
	return newHandler(source, func() error { return nil }, bus, device, opts...)
}

func newHandler(source pcapusb.RecordSource, closer func() error, bus uint16, device uint8, opts ...Option) *Handler {
	h := &Handler{bus: bus, device: device, clock: time.Now, instanceID: uuid.New().String(), closer: closer}
	for _, opt := range opts {
		opt(h)
	}
	h.matcher = newMatcher(source, bus, device, h.clock, h.instanceID)
	return h
}

// Close releases the pcap recording.
func (h *Handler) Close() error {
	return h.closer()
}

// Handle decodes and dispatches one ioctl invocation, completing it
// synchronously. It returns false only when the ioctl argument could not be
// resolved against client memory, letting an outer dispatcher fall through
// to another handler.
func (h *Handler) Handle(client memview.Client) bool {
	req := uintptr(client.Request())
	_, _, _, size := usbfs.DecodeIoctl(req)

	argView, err := client.Resolve(uintptr(client.Arg()), size, true, true)
	if err != nil {
		pkg.LogWarn(pkg.ComponentDispatch, "resolve ioctl argument failed",
			"request", fmt.Sprintf("%#x", req), "error", err)
		return false
	}

	switch req {
	case usbfs.IoctlGetCapabilities:
		binary.LittleEndian.PutUint32(argView.Bytes(), usbfs.Capabilities)
		argView.Dirty(false)
		client.Complete(0, 0)

	case usbfs.IoctlClaimInterface, usbfs.IoctlReleaseInterface,
		usbfs.IoctlClearHalt, usbfs.IoctlReset, usbfs.IoctlResetEP:
		client.Complete(0, 0)

	case usbfs.IoctlSubmitURB:
		h.submit(client, argView)

	case usbfs.IoctlDiscardURB:
		h.discard(client, argView)

	case usbfs.IoctlReapURB, usbfs.IoctlReapURBNDelay:
		h.reap(client, argView)

	default:
		client.Complete(-1, usbfs.ENOTTY)
	}
	return true
}

func (h *Handler) submit(client memview.Client, urbView memview.View) {
	bufferLength := binary.LittleEndian.Uint32(urbView.Bytes()[usbfs.URBBufferLengthOffset:])
	bufferAddr := binary.LittleEndian.Uint64(urbView.Bytes()[usbfs.URBBufferOffset:])

	var bufferView memview.View
	if bufferLength > 0 {
		v, err := client.Resolve(uintptr(bufferAddr), uintptr(bufferLength), true, true)
		if err != nil {
			pkg.LogWarn(pkg.ComponentDispatch, "resolve urb buffer failed",
				"buffer_addr", fmt.Sprintf("%#x", bufferAddr), "length", bufferLength, "error", err)
			client.Complete(-1, usbfs.EINVAL)
			return
		}
		bufferView = v
	}

	h.queue.push(&urbEntry{
		clientAddr: urbView.ClientAddr(),
		clientView: urbView,
		bufferView: bufferView,
	})
	client.Complete(0, 0)
}

func (h *Handler) discard(client memview.Client, argView memview.View) {
	entry, idx := h.queue.findByAddr(argView.ClientAddr())
	if entry == nil {
		client.Complete(-1, usbfs.EINVAL)
		return
	}
	h.queue.removeAt(idx)
	h.discards.push(entry)
	client.Complete(0, 0)
}

func (h *Handler) reap(client memview.Client, argView memview.View) {
	if entry, ok := h.discards.popOldest(); ok {
		h.completeDiscarded(entry, argView, client)
		return
	}

	entry := h.matcher.advance(&h.queue)
	if entry == nil {
		client.Complete(-1, usbfs.EAGAIN)
		return
	}
	binary.LittleEndian.PutUint64(argView.Bytes(), entry.clientAddr)
	argView.Dirty(false)
	client.Complete(0, 0)
}

func (h *Handler) completeDiscarded(entry *urbEntry, argView memview.View, client memview.Client) {
	urb := entry.clientView.Bytes()
	status := int32(-usbfs.ENOENT)
	binary.LittleEndian.PutUint32(urb[usbfs.URBStatusOffset:], uint32(status))
	entry.clientView.Dirty(false)

	binary.LittleEndian.PutUint64(argView.Bytes(), entry.clientAddr)
	argView.Dirty(false)
	client.Complete(0, 0)
}
