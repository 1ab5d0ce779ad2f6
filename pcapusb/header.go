package pcapusb

import "encoding/binary"

// HeaderSize is the fixed size, in bytes, of the usb_header_mmapped
// ("usbmon_packet") structure that prefixes every DLT_USB_LINUX_MMAPPED
// record's payload. Any bytes captured beyond HeaderSize are transfer data.
const HeaderSize = 64

// Event type codes carried in Header.EventType.
const (
	EventSubmit     = 'S'
	EventCompletion = 'C'
	EventError      = 'E'
)

// Header is the fixed portion of a DLT_USB_LINUX_MMAPPED record: the fields
// spec.md §6 names, at their real usbmon_packet byte offsets. Fields the
// core never reads (flag_setup, flag_data, the setup/iso union, interval,
// xfer_flags, ndesc) are skipped rather than modeled.
type Header struct {
	ID             uint64
	EventType      byte
	TransferType   uint8
	EndpointNumber uint8
	DeviceAddress  uint8
	BusID          uint16
	TsSec          int64
	TsUsec         int32
	Status         int32
	URBLen         uint32 // usbmon "length": the URB's declared transfer length
	DataLen        uint32 // usbmon "len_cap": bytes of payload actually captured
	StartFrame     int32
}

// Field offsets within the 64-byte usbmon_packet header.
const (
	offID         = 0
	offEventType  = 8
	offXferType   = 9
	offEndpoint   = 10
	offDevAddr    = 11
	offBusID      = 12
	offTsSec      = 16
	offTsUsec     = 24
	offStatus     = 28
	offURBLen     = 32
	offDataLen    = 36
	offStartFrame = 52
)

// decodeHeader parses the first HeaderSize bytes of buf as a usb_header_mmapped
// record, using the given byte order (the recording host's endianness,
// carried through from the pcap global header — see Source.byteOrder).
func decodeHeader(buf []byte, order binary.ByteOrder) Header {
	return Header{
		ID:             order.Uint64(buf[offID:]),
		EventType:      buf[offEventType],
		TransferType:   buf[offXferType],
		EndpointNumber: buf[offEndpoint],
		DeviceAddress:  buf[offDevAddr],
		BusID:          order.Uint16(buf[offBusID:]),
		TsSec:          int64(order.Uint64(buf[offTsSec:])),
		TsUsec:         int32(order.Uint32(buf[offTsUsec:])),
		Status:         int32(order.Uint32(buf[offStatus:])),
		URBLen:         order.Uint32(buf[offURBLen:]),
		DataLen:        order.Uint32(buf[offDataLen:]),
		StartFrame:     int32(order.Uint32(buf[offStartFrame:])),
	}
}
