package flash

import (
	"encoding/binary"
	"fmt"
)

// BootStore persists the boot pointer in the otadata partition: two dedicated
// sectors, each carrying a little-endian uint32 sequence at offset 0. The
// higher valid sequence wins and selects slot (seq-1)%2. Flipping erases the
// stale sector and then writes sequence+1 into it, so a flip interrupted
// before the final program leaves the previous selection intact.
type BootStore struct {
	dev     Device
	otadata Partition
}

const seqErased = 0xFFFFFFFF

// NewBootStore binds a boot-pointer store to the otadata partition, which
// must span at least two sectors.
func NewBootStore(dev Device, otadata Partition) (*BootStore, error) {
	if otadata.Size < 2*dev.SectorSize() {
		return nil, fmt.Errorf("otadata partition %q is smaller than two sectors", otadata.Label)
	}
	return &BootStore{dev: dev, otadata: otadata}, nil
}

// readSeq returns the sequence stored in the given otadata sector (0 or 1),
// or seqErased when the sector is blank.
func (s *BootStore) readSeq(sector uint32) (uint32, error) {
	var buf [4]byte
	addr := s.otadata.Address + sector*s.dev.SectorSize()
	if err := s.dev.ReadAt(addr, buf[:]); err != nil {
		return 0, &IOError{Op: "read", Addr: addr, Err: err}
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Current returns the slot index the device will boot after the next restart.
// A blank otadata selects slot 0 (the factory default).
func (s *BootStore) Current() (int, error) {
	seq, err := s.maxSeq()
	if err != nil {
		return 0, err
	}
	if seq == 0 {
		return 0, nil
	}
	return int((seq - 1) % 2), nil
}

func (s *BootStore) maxSeq() (uint32, error) {
	var max uint32
	for sector := uint32(0); sector < 2; sector++ {
		seq, err := s.readSeq(sector)
		if err != nil {
			return 0, err
		}
		if seq != seqErased && seq > max {
			max = seq
		}
	}
	return max, nil
}

// SetSlot durably points the boot selector at the given slot (0 or 1). It is
// a no-op when the slot is already selected.
func (s *BootStore) SetSlot(slot int) error {
	if slot != 0 && slot != 1 {
		return fmt.Errorf("invalid slot %d", slot)
	}

	seq, err := s.maxSeq()
	if err != nil {
		return err
	}
	if seq != 0 && int((seq-1)%2) == slot {
		return nil
	}

	next := seq + 1
	if int((next-1)%2) != slot {
		next++
	}

	// Commit into the sector the current winner does not occupy, keeping the
	// old sequence readable until the new one is fully programmed.
	sector := next % 2
	sectorSize := s.dev.SectorSize()
	sectorIndex := (s.otadata.Address + sector*sectorSize) / sectorSize
	if err := s.dev.EraseSector(sectorIndex); err != nil {
		return &IOError{Op: "erase", Addr: sectorIndex * sectorSize, Err: err}
	}

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], next)
	addr := s.otadata.Address + sector*sectorSize
	if err := s.dev.WriteAt(addr, buf[:]); err != nil {
		return &IOError{Op: "write", Addr: addr, Err: err}
	}

	return nil
}
