package usbfs

// TransferType enumerates the four USB transfer types, numbered exactly as
// the kernel's struct usbdevfs_urb.type field and spec.md's usb_header_mmapped
// transfer_type field both use.
type TransferType uint8

const (
	TransferIsochronous TransferType = 0
	TransferInterrupt   TransferType = 1
	TransferControl     TransferType = 2
	TransferBulk        TransferType = 3
)

func (t TransferType) String() string {
	switch t {
	case TransferIsochronous:
		return "isochronous"
	case TransferInterrupt:
		return "interrupt"
	case TransferControl:
		return "control"
	case TransferBulk:
		return "bulk"
	default:
		return "unknown"
	}
}

// EndpointDirection bit conventions for an endpoint address, matching both
// struct usbdevfs_urb.endpoint and usb_header_mmapped.endpoint_number.
const (
	EndpointDirIn  = 0x80
	EndpointDirOut = 0x00
)

// EndpointIsIn reports whether the high bit (direction) of an endpoint
// address marks it as an IN (device-to-host) endpoint.
func EndpointIsIn(endpoint uint8) bool {
	return endpoint&EndpointDirIn != 0
}

// Field offsets within struct usbdevfs_urb, 64-bit layout:
//
//	offset 0:  type          (uint8)
//	offset 1:  endpoint      (uint8)
//	offset 2:  _pad          (2 bytes)
//	offset 4:  status        (int32)
//	offset 8:  flags         (uint32)
//	offset 12: _pad          (4 bytes)
//	offset 16: buffer        (uint64 pointer)
//	offset 24: buffer_length (uint32)
//	offset 28: actual_length (uint32)
//	offset 32: start_frame   (int32)
//	offset 36: stream_id     (uint32) // number_of_packets for isochronous
//	offset 40: error_count   (int32)
//	offset 44: signr         (uint32)
//	offset 48: usercontext   (uint64 pointer)
//
// This mirrors struct usbdevfs_urb as the kernel lays it out on amd64/arm64,
// excluding the trailing variable-length isoFrameDesc array (isochronous
// replay is a non-goal).
const (
	URBTypeOffset         = 0
	URBEndpointOffset     = 1
	URBStatusOffset       = 4
	URBFlagsOffset        = 8
	URBBufferOffset       = 16
	URBBufferLengthOffset = 24
	URBActualLengthOffset = 28
	URBStartFrameOffset   = 32

	URBSize = sizeofURB
)

// Capability bits advertised by USBDEVFS_GET_CAPABILITIES, numbered exactly
// as <linux/usbdevice_fs.h> assigns them.
const (
	CapZeroPacket          = 0x01
	CapBulkContinuation    = 0x02
	CapNoPacketSizeLim     = 0x04
	CapBulkScatterGather   = 0x08
	CapReapAfterDisconnect = 0x10
)

// Capabilities is the fixed bitmask this core advertises: every capability
// that is either a no-op or trivially satisfied by replay.
const Capabilities = CapBulkScatterGather | CapBulkContinuation | CapNoPacketSizeLim | CapReapAfterDisconnect | CapZeroPacket

// Errno values written back via Complete, using the positive C errno
// convention a real usbdevfs ioctl client expects (not Go's syscall.Errno).
const (
	ENOENT = 2
	EAGAIN = 11
	EINVAL = 22
	ENOTTY = 25
)
