package replay

import "github.com/ardnew/usbioctlreplay/memview"

// urbEntry is one in-flight URB: the client's own usb_devfs_urb structure,
// its data buffer, and the identity (client address) used for discard and
// reap. pcapID stays zero until the matcher binds this entry to a recorded
// submit record.
type urbEntry struct {
	clientAddr uint64
	clientView memview.View
	bufferView memview.View
	pcapID     uint64
}

func (e *urbEntry) matched() bool { return e.pcapID != 0 }

// urbQueue is an ordered, insertion-keyed container of in-flight URBs.
// Identity lives in the client address, so no separate ID allocator is
// needed — the array itself preserves submission order.
type urbQueue struct {
	entries []*urbEntry
}

func (q *urbQueue) push(e *urbEntry) {
	q.entries = append(q.entries, e)
}

func (q *urbQueue) findByAddr(addr uint64) (*urbEntry, int) {
	for i, e := range q.entries {
		if e.clientAddr == addr {
			return e, i
		}
	}
	return nil, -1
}

func (q *urbQueue) findByPcapID(id uint64) (*urbEntry, int) {
	for i, e := range q.entries {
		if e.pcapID == id {
			return e, i
		}
	}
	return nil, -1
}

func (q *urbQueue) removeAt(i int) *urbEntry {
	e := q.entries[i]
	q.entries = append(q.entries[:i:i], q.entries[i+1:]...)
	return e
}

func (q *urbQueue) len() int { return len(q.entries) }

// discardList preserves discard order, oldest first.
type discardList struct {
	entries []*urbEntry
}

func (d *discardList) push(e *urbEntry) {
	d.entries = append(d.entries, e)
}

func (d *discardList) popOldest() (*urbEntry, bool) {
	if len(d.entries) == 0 {
		return nil, false
	}
	e := d.entries[0]
	d.entries = d.entries[1:]
	return e, true
}

func (d *discardList) len() int { return len(d.entries) }
