package pcapusb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/pcapgo"
	"github.com/klauspost/compress/gzip"

	"github.com/ardnew/usbioctlreplay/pkg"
)

// usbLinuxMmappedLinkType is DLT_USB_LINUX_MMAPPED, as assigned by
// https://www.tcpdump.org/linktypes.html. Compared as a raw int rather than
// a named gopacket/layers constant so this package does not depend on which
// of the many DLT_* names a given gopacket release happens to export.
const usbLinuxMmappedLinkType = 220

// ErrUnsupportedLinkType is returned by Open when the recording's link type
// is not DLT_USB_LINUX_MMAPPED.
var ErrUnsupportedLinkType = errors.New("pcapusb: recording is not DLT_USB_LINUX_MMAPPED")

// Record is one decoded DLT_USB_LINUX_MMAPPED pcap record: the fixed
// usb_header_mmapped header plus whatever transfer-data bytes were captured
// after it.
type Record struct {
	Header
	Payload []byte
}

// Source delivers DLT_USB_LINUX_MMAPPED records from an offline pcap
// recording, in capture order. It satisfies the "pcap source" external
// interface spec.md §6 describes: Open errors out if the recording isn't
// DLT_USB_LINUX_MMAPPED, and Next pulls one record at a time.
type Source struct {
	r      *pcapgo.Reader
	order  binary.ByteOrder
	closer func() error
}

// Open opens a pcap recording at path in offline mode. Files beginning with
// the gzip magic (1f 8b) are transparently decompressed.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	gzipped, err := isGzip(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	var base io.Reader = f
	closer := func() error { return f.Close() }
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("pcapusb: open gzip recording: %w", err)
		}
		base = gz
		closer = func() error {
			gzErr := gz.Close()
			fErr := f.Close()
			if gzErr != nil {
				return gzErr
			}
			return fErr
		}
	}

	magic := make([]byte, 4)
	if _, err := io.ReadFull(base, magic); err != nil {
		closer()
		return nil, fmt.Errorf("pcapusb: read pcap magic: %w", err)
	}
	order, err := magicByteOrder(magic)
	if err != nil {
		closer()
		return nil, err
	}

	// pcapgo.NewReader needs to see the global header from byte zero, so
	// splice the four magic bytes we already consumed back onto the stream.
	pr, err := pcapgo.NewReader(io.MultiReader(bytes.NewReader(magic), base))
	if err != nil {
		closer()
		return nil, fmt.Errorf("pcapusb: open recording: %w", err)
	}
	if int(pr.LinkType()) != usbLinuxMmappedLinkType {
		closer()
		return nil, fmt.Errorf("%w: %w: link type %d", pkg.ErrNotSupported, ErrUnsupportedLinkType, pr.LinkType())
	}

	return &Source{r: pr, order: order, closer: closer}, nil
}

// LinkType returns the recording's pcap link type number.
func (s *Source) LinkType() int {
	return int(s.r.LinkType())
}

// Close releases the underlying file (and gzip reader, if any).
func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// Next returns the next record in capture order. ok is false once the
// recording is exhausted; err is non-nil only on a genuine read/decode
// failure.
func (s *Source) Next() (Record, bool, error) {
	data, _, err := s.r.ReadPacketData()
	if err == io.EOF {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if len(data) < HeaderSize {
		return Record{}, false, fmt.Errorf("pcapusb: record too short: %d bytes, want at least %d", len(data), HeaderSize)
	}

	hdr := decodeHeader(data, s.order)
	payload := data[HeaderSize:]
	if uint32(len(payload)) > hdr.DataLen {
		payload = payload[:hdr.DataLen]
	}
	return Record{Header: hdr, Payload: payload}, true, nil
}

// isGzip peeks at the first two bytes of f without disturbing its read
// position.
func isGzip(f *os.File) (bool, error) {
	var magic [2]byte
	n, err := f.Read(magic[:])
	if err != nil && err != io.EOF {
		return false, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	return n == 2 && magic[0] == 0x1f && magic[1] == 0x8b, nil
}

// magicByteOrder determines the byte order a pcap global header (and every
// record and payload following it) was written in, from its self-describing
// magic number.
func magicByteOrder(magic []byte) (binary.ByteOrder, error) {
	switch {
	case binary.LittleEndian.Uint32(magic) == 0xa1b2c3d4:
		return binary.LittleEndian, nil
	case binary.BigEndian.Uint32(magic) == 0xa1b2c3d4:
		return binary.BigEndian, nil
	case binary.LittleEndian.Uint32(magic) == 0xa1b23c4d:
		return binary.LittleEndian, nil
	case binary.BigEndian.Uint32(magic) == 0xa1b23c4d:
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("pcapusb: unrecognized pcap magic % x", magic)
	}
}
