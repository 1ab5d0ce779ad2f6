package replay

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/ardnew/usbioctlreplay/memview"
	"github.com/ardnew/usbioctlreplay/pcapusb"
	"github.com/ardnew/usbioctlreplay/usbfs"
)

const (
	testBus    = 1
	testDevice = 5
)

// submitURB allocates a usb_devfs_urb structure and, if bufferLength > 0, a
// backing data buffer, populates the fields the matcher reads, and drives
// it through the handler as a real SUBMITURB ioctl would. It returns the
// URB's client address (its identity for discard/reap).
func submitURB(t *testing.T, h *Handler, client *memview.FakeClient, xferType, endpoint uint8, bufferLength uint32, outBuf []byte) uint64 {
	t.Helper()

	urbAddr := client.Alloc(int(usbfs.URBSize))
	urb := client.At(urbAddr)
	urb[usbfs.URBTypeOffset] = xferType
	urb[usbfs.URBEndpointOffset] = endpoint
	binary.LittleEndian.PutUint32(urb[usbfs.URBBufferLengthOffset:], bufferLength)

	if bufferLength > 0 {
		bufAddr := client.Alloc(int(bufferLength))
		if len(outBuf) > 0 {
			copy(client.At(bufAddr), outBuf)
		}
		binary.LittleEndian.PutUint64(urb[usbfs.URBBufferOffset:], bufAddr)
	}

	client.SetRequest(uint64(usbfs.IoctlSubmitURB))
	client.SetArg(urbAddr)
	if !h.Handle(client) {
		t.Fatalf("SUBMITURB not handled")
	}
	ret, errno, ok := client.Completed()
	if !ok || ret != 0 || errno != 0 {
		t.Fatalf("SUBMITURB completed (%d, %d, %v), want (0, 0, true)", ret, errno, ok)
	}
	return urbAddr
}

// reap drives a REAPURB ioctl and returns the completion and, on success,
// the reaped URB's client address.
func reap(t *testing.T, h *Handler, client *memview.FakeClient) (ret, errno int32, addr uint64) {
	t.Helper()
	argAddr := client.Alloc(8)
	client.SetRequest(uint64(usbfs.IoctlReapURB))
	client.SetArg(argAddr)
	if !h.Handle(client) {
		t.Fatalf("REAPURB not handled")
	}
	ret, errno, _ = client.Completed()
	addr = client.PeekUint64(argAddr, 0)
	return
}

func makeUSBRecord(id uint64, eventType byte, xferType, endpoint, devAddr uint8, bus uint16, status int32, urbLen, dataLen uint32, payload []byte) pcapusb.Record {
	return pcapusb.Record{
		Header: pcapusb.Header{
			ID:             id,
			EventType:      eventType,
			TransferType:   xferType,
			EndpointNumber: endpoint,
			DeviceAddress:  devAddr,
			BusID:          bus,
			Status:         status,
			URBLen:         urbLen,
			DataLen:        dataLen,
		},
		Payload: payload,
	}
}

func newTestHandler(records []pcapusb.Record) (*Handler, *memview.FakeClient) {
	src := pcapusb.NewMemorySource(records)
	h := NewFromSource(src, testBus, testDevice)
	client := memview.NewFakeClient(0)
	return h, client
}

func TestHandle_GetCapabilities(t *testing.T) {
	h, client := newTestHandler(nil)
	argAddr := client.Alloc(4)
	client.SetRequest(uint64(usbfs.IoctlGetCapabilities))
	client.SetArg(argAddr)

	if !h.Handle(client) {
		t.Fatal("GET_CAPABILITIES not handled")
	}
	ret, errno, ok := client.Completed()
	if !ok || ret != 0 || errno != 0 {
		t.Fatalf("completed (%d, %d, %v), want (0, 0, true)", ret, errno, ok)
	}
	got := binary.LittleEndian.Uint32(client.At(argAddr))
	if got != 0x1F {
		t.Errorf("capabilities = %#x, want 0x1F", got)
	}
}

func TestHandle_UnknownOpcode(t *testing.T) {
	h, client := newTestHandler(nil)
	// The decoded declared size of an arbitrary unknown request can be
	// large; allocate generously so argument resolution itself succeeds and
	// the unknown-opcode branch is what produces the completion.
	argAddr := client.Alloc(16384)
	client.SetRequest(0xDEADBEEF)
	client.SetArg(argAddr)

	if !h.Handle(client) {
		t.Fatal("unknown opcode should still be handled (resolved then rejected)")
	}
	ret, errno, ok := client.Completed()
	if !ok || ret != -1 || errno != usbfs.ENOTTY {
		t.Fatalf("completed (%d, %d, %v), want (-1, ENOTTY, true)", ret, errno, ok)
	}
}

func TestHandle_DiscardPath(t *testing.T) {
	h, client := newTestHandler(nil)
	addr := submitURB(t, h, client, uint8(usbfs.TransferBulk), 0x81, 64, nil)

	argAddr := client.Alloc(8)
	client.SetRequest(uint64(usbfs.IoctlDiscardURB))
	client.SetArg(addr)
	if !h.Handle(client) {
		t.Fatal("DISCARDURB not handled")
	}
	ret, errno, ok := client.Completed()
	if !ok || ret != 0 || errno != 0 {
		t.Fatalf("DISCARDURB completed (%d, %d, %v), want (0, 0, true)", ret, errno, ok)
	}
	_ = argAddr

	ret, errno, gotAddr := reap(t, h, client)
	if ret != 0 || errno != 0 || gotAddr != addr {
		t.Fatalf("REAPURB after discard = (%d, %d, %#x), want (0, 0, %#x)", ret, errno, gotAddr, addr)
	}
	status := int32(binary.LittleEndian.Uint32(client.At(addr)[usbfs.URBStatusOffset:]))
	if status != -usbfs.ENOENT {
		t.Errorf("status = %d, want %d", status, -usbfs.ENOENT)
	}
}

func TestHandle_HappyInTransfer(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	records := []pcapusb.Record{
		makeUSBRecord(7, pcapusb.EventSubmit, uint8(usbfs.TransferInterrupt), 0x82, testDevice, testBus, 0, 8, 0, nil),
		makeUSBRecord(7, pcapusb.EventCompletion, uint8(usbfs.TransferInterrupt), 0x82, testDevice, testBus, 0, 8, 8, payload),
	}
	h, client := newTestHandler(records)

	addr := submitURB(t, h, client, uint8(usbfs.TransferInterrupt), 0x82, 8, nil)

	ret, errno, gotAddr := reap(t, h, client)
	if ret != 0 || errno != 0 || gotAddr != addr {
		t.Fatalf("REAPURB = (%d, %d, %#x), want (0, 0, %#x)", ret, errno, gotAddr, addr)
	}

	urb := client.At(addr)
	actualLength := binary.LittleEndian.Uint32(urb[usbfs.URBActualLengthOffset:])
	if actualLength != 8 {
		t.Errorf("actual_length = %d, want 8", actualLength)
	}
	bufAddr := binary.LittleEndian.Uint64(urb[usbfs.URBBufferOffset:])
	got := client.At(bufAddr)
	if string(got) != string(payload) {
		t.Errorf("buffer = %x, want %x", got, payload)
	}
}

func TestHandle_HappyOutTransfer(t *testing.T) {
	buffer := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	records := []pcapusb.Record{
		makeUSBRecord(9, pcapusb.EventSubmit, uint8(usbfs.TransferBulk), 0x01, testDevice, testBus, 0, 4, 4, buffer),
		makeUSBRecord(9, pcapusb.EventCompletion, uint8(usbfs.TransferBulk), 0x01, testDevice, testBus, 0, 4, 0, nil),
	}
	h, client := newTestHandler(records)

	addr := submitURB(t, h, client, uint8(usbfs.TransferBulk), 0x01, 4, buffer)

	ret, errno, gotAddr := reap(t, h, client)
	if ret != 0 || errno != 0 || gotAddr != addr {
		t.Fatalf("REAPURB = (%d, %d, %#x), want (0, 0, %#x)", ret, errno, gotAddr, addr)
	}
	urb := client.At(addr)
	status := int32(binary.LittleEndian.Uint32(urb[usbfs.URBStatusOffset:]))
	actualLength := binary.LittleEndian.Uint32(urb[usbfs.URBActualLengthOffset:])
	if status != 0 || actualLength != 4 {
		t.Errorf("status=%d actual_length=%d, want 0, 4", status, actualLength)
	}
}

func TestHandle_OutMismatchKeepsRecordPending(t *testing.T) {
	recorded := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	records := []pcapusb.Record{
		makeUSBRecord(9, pcapusb.EventSubmit, uint8(usbfs.TransferBulk), 0x01, testDevice, testBus, 0, 4, 4, recorded),
		makeUSBRecord(9, pcapusb.EventCompletion, uint8(usbfs.TransferBulk), 0x01, testDevice, testBus, 0, 4, 0, nil),
	}
	h, client := newTestHandler(records)

	wrong := []byte{0x00, 0x00, 0x00, 0x00}
	submitURB(t, h, client, uint8(usbfs.TransferBulk), 0x01, 4, wrong)

	ret, errno, _ := reap(t, h, client)
	if ret != -1 || errno != usbfs.EAGAIN {
		t.Fatalf("REAPURB with byte mismatch = (%d, %d), want (-1, EAGAIN)", ret, errno)
	}

	// The look-ahead record must still be pending: a second reap attempt
	// with no new submission still can't bind it and must still EAGAIN,
	// rather than e.g. silently consuming or crashing.
	ret, errno, _ = reap(t, h, client)
	if ret != -1 || errno != usbfs.EAGAIN {
		t.Fatalf("second REAPURB = (%d, %d), want (-1, EAGAIN)", ret, errno)
	}
}

func TestHandle_ReapEmptyQueueAndPcap(t *testing.T) {
	h, client := newTestHandler(nil)
	ret, errno, _ := reap(t, h, client)
	if ret != -1 || errno != usbfs.EAGAIN {
		t.Fatalf("REAPURB on empty state = (%d, %d), want (-1, EAGAIN)", ret, errno)
	}
}

func TestHandle_BusDeviceFilter(t *testing.T) {
	records := []pcapusb.Record{
		makeUSBRecord(1, pcapusb.EventSubmit, uint8(usbfs.TransferBulk), 0x81, testDevice+1, testBus, 0, 64, 0, nil),
		makeUSBRecord(1, pcapusb.EventCompletion, uint8(usbfs.TransferBulk), 0x81, testDevice+1, testBus, 0, 64, 0, nil),
	}
	h, client := newTestHandler(records)
	submitURB(t, h, client, uint8(usbfs.TransferBulk), 0x81, 64, nil)

	ret, errno, _ := reap(t, h, client)
	if ret != -1 || errno != usbfs.EAGAIN {
		t.Fatalf("records for a different device must be skipped, got (%d, %d)", ret, errno)
	}
}

func TestHandle_OlderEntryMatchesFirst(t *testing.T) {
	records := []pcapusb.Record{
		makeUSBRecord(42, pcapusb.EventSubmit, uint8(usbfs.TransferBulk), 0x81, testDevice, testBus, 0, 64, 0, nil),
		makeUSBRecord(42, pcapusb.EventCompletion, uint8(usbfs.TransferBulk), 0x81, testDevice, testBus, 0, 64, 0, nil),
	}
	h, client := newTestHandler(records)

	older := submitURB(t, h, client, uint8(usbfs.TransferBulk), 0x81, 64, nil)
	submitURB(t, h, client, uint8(usbfs.TransferBulk), 0x81, 64, nil)

	ret, errno, gotAddr := reap(t, h, client)
	if ret != 0 || errno != 0 || gotAddr != older {
		t.Fatalf("reap = (%d, %d, %#x), want the older entry %#x", ret, errno, gotAddr, older)
	}
}

func TestHandle_ClockInjection(t *testing.T) {
	fixed := time.Unix(1000, 0)
	src := pcapusb.NewMemorySource(nil)
	h := NewFromSource(src, testBus, testDevice, WithClock(func() time.Time { return fixed }))
	if h.clock() != fixed {
		t.Fatal("WithClock did not take effect")
	}
}
