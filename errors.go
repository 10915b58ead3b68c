package shmpool

import "errors"

// Sentinel errors returned by Pool operations, matching spec's error
// taxonomy. Wrapped with call-site context via github.com/pkg/errors;
// test and callers compare against these with errors.Is.
var (
	// ErrNotRunning is the "no pool attached" kind of the error taxonomy.
	// No operation in this package returns it.
	ErrNotRunning = errors.New("shmpool: no pool attached")

	// ErrAlreadyExists is returned by Create when link_path already
	// resolves to a live segment.
	ErrAlreadyExists = errors.New("shmpool: segment already exists")

	// ErrNotFound is returned by Open when link_path names no segment.
	ErrNotFound = errors.New("shmpool: link not found")

	// ErrVersionMismatch is returned by Open when the segment's layout
	// version does not match this package's Version.
	ErrVersionMismatch = errors.New("shmpool: segment version mismatch")

	// ErrCorrupt is returned when the segment's magic is wrong, when
	// robust-mutex recovery has failed (and ever again afterward), or when
	// DetachObject finds the allocator's free-list node pool exhausted.
	ErrCorrupt = errors.New("shmpool: segment corrupt")

	// ErrOutOfMemory is returned when the allocator cannot satisfy a
	// request from the data region.
	ErrOutOfMemory = errors.New("shmpool: allocator out of memory")

	// ErrOutOfSlots is returned when every slot table entry is occupied.
	ErrOutOfSlots = errors.New("shmpool: slot table full")

	// ErrDuplicateID is returned by AddObject when id already names an
	// occupied slot.
	ErrDuplicateID = errors.New("shmpool: duplicate id")

	// ErrUnknownID is returned by AttachObject and DetachObject when id
	// names no occupied slot.
	ErrUnknownID = errors.New("shmpool: unknown id")

	// ErrTimeout is returned by the *Timeout operation variants when the
	// control mutex could not be acquired before the deadline.
	ErrTimeout = errors.New("shmpool: control mutex lock timed out")
)
