// Package slottable implements the fixed-capacity array of slot records
// that binds externally chosen object identifiers to byte-range leases
// inside a segment's data region.
package slottable

import (
	"encoding/binary"

	"github.com/shmpool/shmpool/internal/segment"
)

const (
	recIDOffset       = 0
	recOffsetOffset   = 8
	recLengthOffset   = 16
	recRefcountOffset = 24
	recOccupiedOffset = 28
)

// Record is a view over one 32-byte slot table entry: {id u64, offset
// u64, length u64, refcount u32, occupied u8, pad u3}.
type Record struct {
	b []byte
}

// ID returns the slot's externally supplied identifier. 0 means empty.
func (r Record) ID() uint64 { return binary.LittleEndian.Uint64(r.b[recIDOffset:]) }

// SetID records the slot's identifier.
func (r Record) SetID(v uint64) { binary.LittleEndian.PutUint64(r.b[recIDOffset:], v) }

// Offset returns the lease's byte offset into the data region.
func (r Record) Offset() uint64 { return binary.LittleEndian.Uint64(r.b[recOffsetOffset:]) }

// SetOffset records the lease's byte offset.
func (r Record) SetOffset(v uint64) { binary.LittleEndian.PutUint64(r.b[recOffsetOffset:], v) }

// Length returns the lease's byte length.
func (r Record) Length() uint64 { return binary.LittleEndian.Uint64(r.b[recLengthOffset:]) }

// SetLength records the lease's byte length.
func (r Record) SetLength(v uint64) { binary.LittleEndian.PutUint64(r.b[recLengthOffset:], v) }

// Refcount returns the number of live attachments across all processes.
func (r Record) Refcount() uint32 { return binary.LittleEndian.Uint32(r.b[recRefcountOffset:]) }

// SetRefcount records the refcount.
func (r Record) SetRefcount(v uint32) { binary.LittleEndian.PutUint32(r.b[recRefcountOffset:], v) }

// Occupied reports whether this slot currently binds an id to a lease.
func (r Record) Occupied() bool { return r.b[recOccupiedOffset] != 0 }

// SetOccupied marks the slot occupied or empty.
func (r Record) SetOccupied(v bool) {
	if v {
		r.b[recOccupiedOffset] = 1
	} else {
		r.b[recOccupiedOffset] = 0
	}
}

// Clear resets a slot to its empty zero value.
func (r Record) Clear() {
	for i := range r.b {
		r.b[i] = 0
	}
}

// Table is a view over the slot_count-entry slot table embedded in a
// mapped segment.
type Table struct {
	seg   []byte
	count uint32
}

// New wraps the slot table of a segment holding count slots.
func New(seg []byte, count uint32) *Table {
	return &Table{seg: seg, count: count}
}

// Count returns the configured slot capacity, N.
func (t *Table) Count() uint32 { return t.count }

// Record returns the idx'th slot record, 0 <= idx < Count().
func (t *Table) Record(idx uint32) Record {
	off := segment.SlotTableOffset() + uint64(idx)*segment.SlotRecordSize
	return Record{b: t.seg[off : off+segment.SlotRecordSize]}
}

// FindByID performs the linear scan described by the spec: for N up to a
// few thousand slots, this is negligible next to a page fault on a large
// array, so no auxiliary index is maintained.
func (t *Table) FindByID(id uint64) (idx uint32, ok bool) {
	for i := uint32(0); i < t.count; i++ {
		r := t.Record(i)
		if r.Occupied() && r.ID() == id {
			return i, true
		}
	}

	return 0, false
}

// FindFree returns the index of the first unoccupied slot.
func (t *Table) FindFree() (idx uint32, ok bool) {
	for i := uint32(0); i < t.count; i++ {
		if !t.Record(i).Occupied() {
			return i, true
		}
	}

	return 0, false
}

// ForEachOccupied calls fn for every currently occupied slot, in index order.
func (t *Table) ForEachOccupied(fn func(idx uint32, r Record)) {
	for i := uint32(0); i < t.count; i++ {
		r := t.Record(i)
		if r.Occupied() {
			fn(i, r)
		}
	}
}
