package replay

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ardnew/usbioctlreplay/pcapusb"
	"github.com/ardnew/usbioctlreplay/pkg"
	"github.com/ardnew/usbioctlreplay/usbfs"
)

// lookahead holds the matcher's single retained, unconsumed pcap record.
type lookahead struct {
	record             *pcapusb.Record
	lastMatchedPktTime time.Time
	waitingSince       time.Time
}

func (l *lookahead) present() bool { return l.record != nil }

func (l *lookahead) consume() { l.record = nil }

// matcher holds the pcap cursor and binds its records against a urbQueue.
// It is re-entrant across calls: when a submit record finds no matching
// URB, it stays in the look-ahead so a later client submission can unblock
// it on a subsequent call.
type matcher struct {
	source     pcapusb.RecordSource
	bus        uint16
	device     uint8
	clock      func() time.Time
	instanceID string

	look lookahead
}

func newMatcher(source pcapusb.RecordSource, bus uint16, device uint8, clock func() time.Time, instanceID string) *matcher {
	return &matcher{source: source, bus: bus, device: device, clock: clock, instanceID: instanceID}
}

// recordTime converts a header's usbmon timestamp fields to a time.Time.
func recordTime(h pcapusb.Header) time.Time {
	return time.Unix(h.TsSec, int64(h.TsUsec)*1000)
}

// advance runs the matcher loop to completion for a single reap attempt: it
// either binds and returns exactly one completed URB, or leaves the
// look-ahead exactly where a subsequent call should resume and returns nil.
func (m *matcher) advance(queue *urbQueue) *urbEntry {
	for {
		if !m.ensureLookahead() {
			return nil
		}
		rec := m.look.record

		if rec.BusID != m.bus || rec.DeviceAddress != m.device {
			m.look.consume()
			continue
		}

		m.checkStuck(queue, rec)

		switch rec.EventType {
		case pcapusb.EventSubmit:
			if entry := m.matchSubmit(queue, rec); entry != nil {
				m.look.lastMatchedPktTime = recordTime(rec.Header)
				m.look.consume()
				continue
			}
			if usbfs.TransferType(rec.TransferType) == usbfs.TransferControl {
				// Kernel-internal control traffic (enumeration) the client
				// never submitted; expected to be absent from submissions.
				m.look.consume()
				continue
			}
			// Cannot reap now: leave the record pending and stop.
			return nil

		case pcapusb.EventCompletion:
			entry, idx := queue.findByPcapID(rec.ID)
			if entry == nil {
				// Completion for a kernel-internal transfer; discard.
				m.look.consume()
				continue
			}
			queue.removeAt(idx)
			m.completeEntry(entry, rec)
			m.look.lastMatchedPktTime = recordTime(rec.Header)
			m.look.consume()
			return entry

		default:
			panic(fmt.Errorf("%w: %w: %q", pkg.ErrInvalidState, ErrUnsupportedEventType, rec.EventType))
		}
	}
}

// ensureLookahead pulls the next record when the look-ahead is empty.
// Returns false once the pcap source is exhausted.
func (m *matcher) ensureLookahead() bool {
	if m.look.present() {
		return true
	}
	rec, ok, err := m.source.Next()
	if err != nil {
		panic(fmt.Errorf("replay: pcap read failed: %w", err))
	}
	if !ok {
		return false
	}
	m.look.record = &rec
	m.look.waitingSince = m.clock()
	return true
}

// matchSubmit walks the queue oldest-first looking for an unsubmitted entry
// whose structural fingerprint matches rec.
func (m *matcher) matchSubmit(queue *urbQueue, rec *pcapusb.Record) *urbEntry {
	for _, e := range queue.entries {
		if e.matched() {
			continue
		}
		if fingerprintMatches(e, rec) {
			e.pcapID = rec.ID
			return e
		}
	}
	return nil
}

func fingerprintMatches(e *urbEntry, rec *pcapusb.Record) bool {
	urb := e.clientView.Bytes()
	xferType := urb[usbfs.URBTypeOffset]
	endpoint := urb[usbfs.URBEndpointOffset]
	bufferLength := binary.LittleEndian.Uint32(urb[usbfs.URBBufferLengthOffset:])

	if xferType != rec.TransferType {
		return false
	}
	if endpoint != rec.EndpointNumber {
		return false
	}
	if bufferLength != rec.URBLen {
		return false
	}

	if rec.DataLen > 0 {
		// A payload-bearing submit record is an outbound transfer.
		if usbfs.EndpointIsIn(endpoint) {
			return false
		}
		if rec.DataLen != bufferLength {
			return false
		}
		if !bytes.Equal(e.bufferView.Bytes(), rec.Payload) {
			return false
		}
	}
	return true
}

// completeEntry writes a completion record's result back into entry's
// client views.
func (m *matcher) completeEntry(e *urbEntry, rec *pcapusb.Record) {
	if rec.StartFrame != 0 {
		panic(fmt.Errorf("%w: %w: start_frame=%d", pkg.ErrInvalidState, errStartFrameAsserted, rec.StartFrame))
	}

	if rec.DataLen > 0 {
		copy(e.bufferView.Bytes(), rec.Payload)
		e.bufferView.Dirty(false)
	}

	urb := e.clientView.Bytes()
	binary.LittleEndian.PutUint32(urb[usbfs.URBStatusOffset:], uint32(rec.Status))
	binary.LittleEndian.PutUint32(urb[usbfs.URBActualLengthOffset:], rec.URBLen)
	binary.LittleEndian.PutUint32(urb[usbfs.URBStartFrameOffset:], uint32(rec.StartFrame))
	e.clientView.Dirty(false)
}

// checkStuck updates the stuck detector against the current look-ahead
// record and, if divergence is detected, emits an advisory report.
func (m *matcher) checkStuck(queue *urbQueue, rec *pcapusb.Record) {
	now := m.clock()
	recordDelta := recordTime(rec.Header).Sub(m.look.lastMatchedPktTime)
	if m.look.lastMatchedPktTime.IsZero() {
		recordDelta = 0
	}

	if !isStuck(now, m.look.waitingSince, recordDelta) {
		return
	}

	pkg.LogInfo(pkg.ComponentStuck, "replay appears stuck",
		"instance", m.instanceID,
		"wait", now.Sub(m.look.waitingSince),
		"expected", recordDelta,
		"event_type", string(rec.EventType),
		"transfer_type", usbfs.TransferType(rec.TransferType).String(),
		"endpoint", rec.EndpointNumber,
		"urb_len", rec.URBLen,
		"queue_depth", queue.len(),
	)
	for _, e := range queue.entries {
		urb := e.clientView.Bytes()
		pkg.LogInfo(pkg.ComponentStuck, "queued urb",
			"instance", m.instanceID,
			"client_addr", e.clientAddr,
			"type", usbfs.TransferType(urb[usbfs.URBTypeOffset]).String(),
			"endpoint", urb[usbfs.URBEndpointOffset],
			"buffer_length", binary.LittleEndian.Uint32(urb[usbfs.URBBufferLengthOffset:]),
			"matched", e.matched(),
		)
	}

	m.look.waitingSince = now
}
