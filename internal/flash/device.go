package flash

// Device exposes the raw flash primitives the engine drives. Implementations
// translate their platform-specific failures into plain errors; the engine
// unifies them into IOError at the call site so upper layers never see driver
// codes.
//
// Addresses are absolute chip offsets. EraseSector takes a sector index
// (address / SectorSize), matching the underlying erase command.
type Device interface {
	// ChipSize returns the total flash size in bytes.
	ChipSize() uint32

	// SectorSize returns the minimum erasable unit in bytes.
	SectorSize() uint32

	// EraseSector erases the sector with the given index, leaving every byte
	// in it reading as ErasedByte.
	EraseSector(index uint32) error

	// WriteAt programs p starting at the absolute address addr. len(p) must
	// be a multiple of WriteGranularity and the range must have been erased.
	WriteAt(addr uint32, p []byte) error

	// ReadAt fills p from the absolute address addr.
	ReadAt(addr uint32, p []byte) error
}
