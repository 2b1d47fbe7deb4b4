package hal

import (
	"fmt"
	"os"

	"github.com/otarescue-io/otarescue/internal/flash"
)

// FileDevice exposes a file as a flash chip. On target hardware the path is
// the raw mtdblock node; on a bench it is an ordinary image file, created and
// zero-extended to the chip size on first open.
//
// The kernel's mtdblock layer handles the physical erase-before-write cycle,
// so EraseSector here is expressed as programming the erased bit pattern.
type FileDevice struct {
	f          *os.File
	chipSize   uint32
	sectorSize uint32
}

var _ flash.Device = (*FileDevice)(nil)

// NewFileDevice opens path read-write and sizes it to the chip geometry.
func NewFileDevice(path string, chipSize, sectorSize uint32) (*FileDevice, error) {
	if sectorSize == 0 || chipSize%sectorSize != 0 {
		return nil, fmt.Errorf("chip size 0x%x is not a multiple of sector size 0x%x", chipSize, sectorSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open flash image %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() < int64(chipSize) {
		// A fresh bench image: extend and fill with the erased pattern so it
		// reads like a blank chip.
		if err := blankFill(f, fi.Size(), int64(chipSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("initialize flash image %s: %w", path, err)
		}
	}

	return &FileDevice{f: f, chipSize: chipSize, sectorSize: sectorSize}, nil
}

func blankFill(f *os.File, from, to int64) error {
	blank := make([]byte, 64*1024)
	for i := range blank {
		blank[i] = flash.ErasedByte
	}
	for off := from; off < to; {
		n := int64(len(blank))
		if to-off < n {
			n = to - off
		}
		if _, err := f.WriteAt(blank[:n], off); err != nil {
			return err
		}
		off += n
	}
	return nil
}

func (d *FileDevice) ChipSize() uint32   { return d.chipSize }
func (d *FileDevice) SectorSize() uint32 { return d.sectorSize }

func (d *FileDevice) EraseSector(index uint32) error {
	start := uint64(index) * uint64(d.sectorSize)
	if start+uint64(d.sectorSize) > uint64(d.chipSize) {
		return fmt.Errorf("erase sector %d past end of chip", index)
	}

	blank := make([]byte, d.sectorSize)
	for i := range blank {
		blank[i] = flash.ErasedByte
	}
	_, err := d.f.WriteAt(blank, int64(start))
	return err
}

func (d *FileDevice) WriteAt(addr uint32, p []byte) error {
	if uint64(addr)+uint64(len(p)) > uint64(d.chipSize) {
		return fmt.Errorf("write [0x%x, +%d) past end of chip", addr, len(p))
	}
	_, err := d.f.WriteAt(p, int64(addr))
	return err
}

func (d *FileDevice) ReadAt(addr uint32, p []byte) error {
	if uint64(addr)+uint64(len(p)) > uint64(d.chipSize) {
		return fmt.Errorf("read [0x%x, +%d) past end of chip", addr, len(p))
	}
	_, err := d.f.ReadAt(p, int64(addr))
	return err
}

// Sync flushes pending writes to the backing file. Called after each mutating
// operation so a power loss cannot lose a completed write.
func (d *FileDevice) Sync() error { return d.f.Sync() }

func (d *FileDevice) Close() error {
	if err := d.f.Sync(); err != nil {
		d.f.Close()
		return err
	}
	return d.f.Close()
}
