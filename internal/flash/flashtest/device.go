// Package flashtest provides an in-memory recording flash device for tests:
// it remembers every erase and program call in order, enforces the
// erase-before-write discipline, and can be told to fail at chosen points.
package flashtest

import (
	"fmt"
)

// WriteRecord is one program call as seen by the device.
type WriteRecord struct {
	Addr uint32
	Data []byte
}

// Device is an in-memory flash chip.
type Device struct {
	mem        []byte
	sectorSize uint32

	// Call journal, in order of arrival.
	Erases []uint32 // sector indices
	Writes []WriteRecord

	// Fault injection. When non-nil, the hook is consulted before the
	// operation takes effect; returning an error fails the call.
	EraseErr func(sector uint32) error
	WriteErr func(addr uint32) error
	ReadErr  func(addr uint32) error

	erased map[uint32]bool
}

// New creates a blank (all-0xFF) chip of the given geometry.
func New(chipSize, sectorSize uint32) *Device {
	mem := make([]byte, chipSize)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &Device{
		mem:        mem,
		sectorSize: sectorSize,
		erased:     make(map[uint32]bool),
	}
}

func (d *Device) ChipSize() uint32   { return uint32(len(d.mem)) }
func (d *Device) SectorSize() uint32 { return d.sectorSize }

func (d *Device) EraseSector(index uint32) error {
	if d.EraseErr != nil {
		if err := d.EraseErr(index); err != nil {
			return err
		}
	}
	start := index * d.sectorSize
	if start >= uint32(len(d.mem)) {
		return fmt.Errorf("erase sector %d out of range", index)
	}
	for i := start; i < start+d.sectorSize; i++ {
		d.mem[i] = 0xFF
	}
	d.Erases = append(d.Erases, index)
	d.erased[index] = true
	return nil
}

func (d *Device) WriteAt(addr uint32, p []byte) error {
	if d.WriteErr != nil {
		if err := d.WriteErr(addr); err != nil {
			return err
		}
	}
	if int(addr)+len(p) > len(d.mem) {
		return fmt.Errorf("write [0x%x, +%d) out of range", addr, len(p))
	}
	for off := range p {
		sector := (addr + uint32(off)) / d.sectorSize
		if !d.erased[sector] {
			return fmt.Errorf("program of unerased sector %d at 0x%x", sector, addr+uint32(off))
		}
	}
	copy(d.mem[addr:], p)
	d.Writes = append(d.Writes, WriteRecord{Addr: addr, Data: append([]byte(nil), p...)})
	return nil
}

func (d *Device) ReadAt(addr uint32, p []byte) error {
	if d.ReadErr != nil {
		if err := d.ReadErr(addr); err != nil {
			return err
		}
	}
	if int(addr)+len(p) > len(d.mem) {
		return fmt.Errorf("read [0x%x, +%d) out of range", addr, len(p))
	}
	copy(p, d.mem[addr:])
	return nil
}

// Load seeds memory directly, bypassing the erase discipline and the journal.
// Use it to fabricate pre-existing chip contents.
func (d *Device) Load(addr uint32, p []byte) {
	copy(d.mem[addr:], p)
	for s := addr / d.sectorSize; s <= (addr+uint32(len(p))-1)/d.sectorSize; s++ {
		d.erased[s] = true
	}
}

// Mem returns a view of the chip contents.
func (d *Device) Mem() []byte { return d.mem }

// Reset clears the call journal but keeps memory contents.
func (d *Device) Reset() {
	d.Erases = nil
	d.Writes = nil
}

// MutationCalls returns the total number of erase and program calls.
func (d *Device) MutationCalls() int { return len(d.Erases) + len(d.Writes) }
