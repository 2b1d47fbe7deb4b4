package flash

import (
	"fmt"

	"github.com/otarescue-io/otarescue/pkg/log"
)

// CloneRunningToOther copies the running OTA slot into the other slot, sector
// by sector, then flips the boot pointer to the destination. It is the
// device's self-escape hatch: a device executing from a constrained slot can
// duplicate itself into the preferred one without any network-delivered
// content.
//
// Only min(src.Size, dst.Size) bytes are copied, since slot capacities may
// differ; destination bytes beyond that are left untouched. A failed read or
// write aborts with CloneError and the boot pointer is not moved.
func (e *Engine) CloneRunningToOther() (Partition, WriteStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stats WriteStats

	src, dst, err := e.slotPair()
	if err != nil {
		return Partition{}, stats, err
	}

	toCopy := src.Size
	if dst.Size < toCopy {
		toCopy = dst.Size
	}

	log.Info("Cloning running slot", "src", src.Label, "dst", dst.Label, "bytes", toCopy)

	sectorSize := e.dev.SectorSize()
	buf := make([]byte, sectorSize+WriteGranularity)

	for off := uint32(0); off < toCopy; off += sectorSize {
		n := sectorSize
		if toCopy-off < n {
			n = toCopy - off
		}

		sector := (dst.Address + off) / sectorSize
		if err := e.dev.EraseSector(sector); err != nil {
			return Partition{}, stats, &CloneError{Src: src.Label, Dst: dst.Label, Offset: off,
				Err: &IOError{Op: "erase", Addr: sector * sectorSize, Err: err}}
		}
		stats.SectorsErased++

		if err := e.dev.ReadAt(src.Address+off, buf[:n]); err != nil {
			return Partition{}, stats, &CloneError{Src: src.Label, Dst: dst.Label, Offset: off,
				Err: &IOError{Op: "read", Addr: src.Address + off, Err: err}}
		}

		padded := (n + WriteGranularity - 1) &^ (WriteGranularity - 1)
		for i := n; i < padded; i++ {
			buf[i] = ErasedByte
		}
		if err := e.dev.WriteAt(dst.Address+off, buf[:padded]); err != nil {
			return Partition{}, stats, &CloneError{Src: src.Label, Dst: dst.Label, Offset: off,
				Err: &IOError{Op: "write", Addr: dst.Address + off, Err: err}}
		}
		stats.BytesWritten += n
	}

	// The copy is complete and length-verified; only now may the boot
	// pointer move (no partial-slot boot).
	slot := 0
	if dst.Subkind == SubOTA1 {
		slot = 1
	}
	if err := e.boot.SetSlot(slot); err != nil {
		return Partition{}, stats, fmt.Errorf("%w: %v", ErrSetBootFailed, err)
	}

	log.Info("Clone complete, boot pointer moved", "dst", dst.Label)
	return dst, stats, nil
}

// SwitchBootToOther flips the boot pointer to whichever OTA slot is not
// currently running, without copying any data. Used when the other slot
// already holds a valid image.
func (e *Engine) SwitchBootToOther() (Partition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, dst, err := e.slotPair()
	if err != nil {
		return Partition{}, err
	}

	slot := 0
	if dst.Subkind == SubOTA1 {
		slot = 1
	}
	if err := e.boot.SetSlot(slot); err != nil {
		return Partition{}, fmt.Errorf("%w: %v", ErrSetBootFailed, err)
	}

	log.Info("Boot pointer switched", "dst", dst.Label)
	return dst, nil
}

// slotPair returns (running slot, alternate slot). The running partition must
// itself be an OTA slot and the alternate must exist in the table.
func (e *Engine) slotPair() (src, dst Partition, err error) {
	if !e.hasRun || !e.running.IsSlot() {
		return Partition{}, Partition{}, fmt.Errorf("%w: not running from an OTA slot", ErrNoAlternateSlot)
	}

	other := SubOTA1
	if e.running.Subkind == SubOTA1 {
		other = SubOTA0
	}
	dst, ok := e.dir.BySubkind(KindApp, other)
	if !ok {
		return Partition{}, Partition{}, ErrNoAlternateSlot
	}
	return e.running, dst, nil
}
