// Package segment implements the fixed-size shared memory segment that
// backs a pool: the mapped file, its fixed-layout header, and the byte
// offsets of the slot table, free-list node pool, and data region that
// are computed from the header once at open time.
package segment

import "encoding/binary"

// Magic identifies a shmpool segment. It is written once at Create time
// and checked on every Open.
const Magic = "PYARRPL\x00"

// Version is the on-disk layout version implemented by this package.
const Version uint32 = 1

// EmptyIndex is the sentinel "no node" value used by the free-list head
// and by the intrusive next-index array.
const EmptyIndex uint32 = 0xFFFFFFFF

// CorruptFlag, once set in the header, means every future operation on
// the segment must fail with Corrupt. It is sticky: nothing clears it.
const CorruptFlag uint32 = 1 << 0

// HeldFlag marks that some process is in the middle of a mutation of the
// slot table or free list. A Lock() that finds it already set knows its
// predecessor died mid-critical-section and must run recovery before
// proceeding.
const HeldFlag uint32 = 1 << 1

// Byte offsets of header fields, per spec: magic(8) version(4) slotCount(4)
// dataRegionOffset(8) dataRegionLength(8) freeListHead(4) reserved(4), then
// the process-shared control mutex region (platform-defined size). This
// implementation's mutex region is an epoch counter, a flags word and the
// free-list node-pool's own "available node" stack head.
const (
	offMagic             = 0
	magicLen             = 8
	offVersion           = 8
	offSlotCount         = 12
	offDataRegionOffset  = 16
	offDataRegionLength  = 24
	offFreeListHead      = 32
	offReserved          = 36
	offMutexEpoch        = 40
	offMutexFlags        = 48
	offAvailableNodeHead = 52
	// 56..63 padding, reserved for future control-region growth.

	// HeaderSize is the size of the fixed prologue preceding the slot table.
	HeaderSize = 64

	// SlotRecordSize is the on-disk size of one slot table entry:
	// {id u64, offset u64, length u64, refcount u32, occupied u8, pad u3}.
	SlotRecordSize = 32

	// FreeNodeSize is the on-disk size of one free-list node: {offset u64, length u64}.
	FreeNodeSize = 16

	// freeNextEntrySize is the size of one entry in the parallel next-index array.
	freeNextEntrySize = 4
)

// Header is a view over the first HeaderSize bytes of a mapped segment.
// Reads and writes go straight through to the shared mapping, so any
// process holding the control mutex observes every other process's
// writes immediately.
type Header struct {
	b []byte
}

// NewHeader wraps the header prologue of a mapped segment. seg must be
// at least HeaderSize bytes.
func NewHeader(seg []byte) Header {
	return Header{b: seg[:HeaderSize]}
}

// Magic returns the 8 bytes at the start of the segment.
func (h Header) Magic() string {
	return string(h.b[offMagic : offMagic+magicLen])
}

// SetMagic stamps the segment with the shmpool magic.
func (h Header) SetMagic() {
	copy(h.b[offMagic:offMagic+magicLen], Magic)
}

// Version returns the layout version.
func (h Header) Version() uint32 { return binary.LittleEndian.Uint32(h.b[offVersion:]) }

// SetVersion records the layout version.
func (h Header) SetVersion(v uint32) { binary.LittleEndian.PutUint32(h.b[offVersion:], v) }

// SlotCount returns the configured number of slot table entries, N.
func (h Header) SlotCount() uint32 { return binary.LittleEndian.Uint32(h.b[offSlotCount:]) }

// SetSlotCount records N.
func (h Header) SetSlotCount(n uint32) { binary.LittleEndian.PutUint32(h.b[offSlotCount:], n) }

// DataRegionOffset returns the byte offset of the data region within the segment.
func (h Header) DataRegionOffset() uint64 {
	return binary.LittleEndian.Uint64(h.b[offDataRegionOffset:])
}

// SetDataRegionOffset records the data region's start offset.
func (h Header) SetDataRegionOffset(v uint64) {
	binary.LittleEndian.PutUint64(h.b[offDataRegionOffset:], v)
}

// DataRegionLength returns the size in bytes of the data region.
func (h Header) DataRegionLength() uint64 {
	return binary.LittleEndian.Uint64(h.b[offDataRegionLength:])
}

// SetDataRegionLength records the data region's size.
func (h Header) SetDataRegionLength(v uint64) {
	binary.LittleEndian.PutUint64(h.b[offDataRegionLength:], v)
}

// FreeListHead returns the node-pool index at the head of the free list,
// or EmptyIndex if the free list is empty.
func (h Header) FreeListHead() uint32 { return binary.LittleEndian.Uint32(h.b[offFreeListHead:]) }

// SetFreeListHead records the free list's head index.
func (h Header) SetFreeListHead(v uint32) { binary.LittleEndian.PutUint32(h.b[offFreeListHead:], v) }

// AvailableNodeHead returns the node-pool index at the head of the stack
// of unused node-pool slots (nodes not currently part of the free list).
func (h Header) AvailableNodeHead() uint32 {
	return binary.LittleEndian.Uint32(h.b[offAvailableNodeHead:])
}

// SetAvailableNodeHead records the available-node stack's head index.
func (h Header) SetAvailableNodeHead(v uint32) {
	binary.LittleEndian.PutUint32(h.b[offAvailableNodeHead:], v)
}

// MutexEpoch returns a monotonically increasing counter bumped on every
// successful control-mutex acquisition. It has no correctness role, and
// nothing in this module reads it other than to increment it.
func (h Header) MutexEpoch() uint64 { return binary.LittleEndian.Uint64(h.b[offMutexEpoch:]) }

// SetMutexEpoch records the epoch counter.
func (h Header) SetMutexEpoch(v uint64) { binary.LittleEndian.PutUint64(h.b[offMutexEpoch:], v) }

// Flags returns the raw control-region flags word.
func (h Header) Flags() uint32 { return binary.LittleEndian.Uint32(h.b[offMutexFlags:]) }

// SetFlags overwrites the control-region flags word.
func (h Header) SetFlags(v uint32) { binary.LittleEndian.PutUint32(h.b[offMutexFlags:], v) }

// Corrupt reports whether the segment has been marked unusable by a
// failed robust-mutex recovery.
func (h Header) Corrupt() bool { return h.Flags()&CorruptFlag != 0 }

// MarkCorrupt sets the sticky corrupt flag.
func (h Header) MarkCorrupt() { h.SetFlags(h.Flags() | CorruptFlag) }

// Held reports whether some process's mutation of the slot table or free
// list is (or was, at crash time) in flight.
func (h Header) Held() bool { return h.Flags()&HeldFlag != 0 }

// SetHeld sets or clears the held flag.
func (h Header) SetHeld(v bool) {
	f := h.Flags()
	if v {
		f |= HeldFlag
	} else {
		f &^= HeldFlag
	}
	h.SetFlags(f)
}

func align8(n uint64) uint64 { return (n + 7) &^ 7 }

// SlotTableOffset is the byte offset of slot 0 within the segment.
func SlotTableOffset() uint64 { return HeaderSize }

// FreeNodePoolOffset is the byte offset of free-list node 0 within the segment.
func FreeNodePoolOffset(slotCount uint32) uint64 {
	return SlotTableOffset() + uint64(slotCount)*SlotRecordSize
}

// FreeNextOffset is the byte offset of the parallel next-index array.
func FreeNextOffset(slotCount uint32) uint64 {
	return FreeNodePoolOffset(slotCount) + uint64(slotCount+1)*FreeNodeSize
}

// DataOffset is the byte offset of the data region, 8-aligned.
func DataOffset(slotCount uint32) uint64 {
	return align8(FreeNextOffset(slotCount) + uint64(slotCount+1)*freeNextEntrySize)
}

// TotalSize returns the full segment size required for slotCount slots
// and a data region of dataSize bytes.
func TotalSize(slotCount uint32, dataSize uint64) uint64 {
	return DataOffset(slotCount) + dataSize
}
