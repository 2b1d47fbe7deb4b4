package flash

import (
	"errors"
	"fmt"
)

// Precondition errors. No flash state has changed when one of these is
// returned; the caller may retry with corrected parameters.
var (
	// ErrUnknownTarget means the label resolves to no partition.
	ErrUnknownTarget = errors.New("unknown target partition")

	// ErrLengthOutOfRange means the declared length is zero or the write
	// would run past the (clipped) window limit.
	ErrLengthOutOfRange = errors.New("length out of range for target window")

	// ErrOverlapsRunningImage means the concrete byte range intersects the
	// partition currently executing. The caller must relocate first.
	ErrOverlapsRunningImage = errors.New("target overlaps running image")

	// ErrBadImageMagic means a raw image write at flash offset 0 did not
	// start with the expected application-image magic byte.
	ErrBadImageMagic = errors.New("first byte is not a valid application image magic")

	// ErrNoAlternateSlot means no OTA slot other than the running one is
	// registered in the partition table.
	ErrNoAlternateSlot = errors.New("no alternate OTA slot registered")

	// ErrSetBootFailed means the boot pointer could not be persisted.
	ErrSetBootFailed = errors.New("failed to persist boot pointer")
)

// IOError reports an erase or program failure. The target region is left
// partially written; the operation is not retried and not rolled back
// (re-erasing on failure risks compounding the damage). Re-running the whole
// operation is safe since erase-before-write resets any partial sector.
type IOError struct {
	Op   string // "erase", "write" or "read"
	Addr uint32 // absolute flash address (erase: sector start)
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("flash %s failed at 0x%06x: %v", e.Op, e.Addr, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// CloneError reports a failed slot clone. The destination slot is in an
// undefined state; the boot pointer has not been moved.
type CloneError struct {
	Src, Dst string // slot labels
	Offset   uint32 // partition-relative offset of the failed step
	Err      error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("clone %s -> %s failed at offset 0x%06x: %v", e.Src, e.Dst, e.Offset, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }
