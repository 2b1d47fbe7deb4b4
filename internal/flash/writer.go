package flash

import (
	"fmt"
	"io"

	"github.com/otarescue-io/otarescue/pkg/log"
)

// WriteChunkSize is how many bytes of the inbound stream are consumed per
// erase/program step.
const WriteChunkSize = 1024

// WriteStats summarizes a completed (or aborted) write for callers that
// track progress metrics.
type WriteStats struct {
	BytesWritten  uint32
	SectorsErased uint32
}

// Write streams declaredLen bytes from r into the partition named by label,
// erasing ahead of the write cursor one sector at a time.
//
// Preconditions are checked in order, each a distinct caller-visible failure:
// unknown label, zero/overlong declared length (against the clipped window),
// concrete range overlapping the running image, and, for writes starting at
// absolute flash offset 0, a bad application-image magic in the first
// received chunk. None of them touch flash.
//
// A mid-stream erase or program failure aborts with IOError and leaves the
// region partially written; there is no rollback. Re-running the whole write
// is safe because every sector is re-erased before it is programmed.
func (e *Engine) Write(label string, r io.Reader, declaredLen uint32) (WriteStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stats WriteStats

	w, err := e.ResolveWindow(label)
	if err != nil {
		return stats, err
	}

	base := uint64(w.Base)
	end := base + uint64(declaredLen)
	if declaredLen == 0 || end > uint64(w.Limit) {
		return stats, fmt.Errorf("%w: %d bytes at 0x%06x exceeds limit 0x%06x",
			ErrLengthOutOfRange, declaredLen, w.Base, w.Limit)
	}

	// Independent of the clip above: the clip reasons about nominal partition
	// bounds, this guards the actual transfer range.
	if e.overlapsRunning(base, end) {
		return stats, fmt.Errorf("%w: write [0x%06x, 0x%06x) vs running [0x%06x, 0x%06x)",
			ErrOverlapsRunningImage, w.Base, end, e.running.Address, e.running.End())
	}

	log.Info("Starting flash write", "target", label, "base", w.Base, "length", declaredLen)

	var (
		sectorSize   = e.dev.SectorSize()
		addr         = w.Base // write cursor
		erasedTo     = w.Base // erase cursor, sector-quantized
		remaining    = declaredLen
		checkedMagic bool
		buf          [WriteChunkSize + WriteGranularity]byte
	)

	for remaining > 0 {
		n := remaining
		if n > WriteChunkSize {
			n = WriteChunkSize
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return stats, fmt.Errorf("stream read at offset %d: %w", declaredLen-remaining, err)
		}

		if !checkedMagic && w.Base == 0 {
			if buf[0] != ImageMagic {
				return stats, fmt.Errorf("%w: got 0x%02x", ErrBadImageMagic, buf[0])
			}
			checkedMagic = true
		}

		// Erase forward until the erase cursor covers this chunk.
		for addr+n > erasedTo {
			sector := erasedTo / sectorSize
			if err := e.dev.EraseSector(sector); err != nil {
				return stats, &IOError{Op: "erase", Addr: sector * sectorSize, Err: err}
			}
			erasedTo = (sector + 1) * sectorSize
			stats.SectorsErased++
		}

		// Pad to write granularity with the erased-state fill value so the
		// padding never forces a program pulse.
		padded := (n + WriteGranularity - 1) &^ (WriteGranularity - 1)
		for i := n; i < padded; i++ {
			buf[i] = ErasedByte
		}
		if err := e.dev.WriteAt(addr, buf[:padded]); err != nil {
			return stats, &IOError{Op: "write", Addr: addr, Err: err}
		}

		// Cursors advance by the unpadded length.
		addr += n
		remaining -= n
		stats.BytesWritten += n
	}

	log.Info("Flash write complete", "target", label, "bytes", stats.BytesWritten, "sectors", stats.SectorsErased)
	return stats, nil
}
