package flash

import (
	"fmt"
)

// Platform constants for the supported chip family.
const (
	// WriteGranularity is the minimum aligned unit the flash program
	// operation accepts; shorter data is padded with ErasedByte.
	WriteGranularity = 4

	// ErasedByte is the bit pattern flash reads as after a sector erase.
	// Padding with it never forces a stray program pulse.
	ErasedByte = 0xFF

	// ImageMagic is the first byte of a bootable application image.
	ImageMagic = 0xE9

	// FallbackBootLimit bounds the synthetic "boot" pseudo-partition when no
	// OTA slot is registered to derive the real boundary from.
	FallbackBootLimit = 0x6000

	// DefaultCeiling is the write ceiling assumed when the running partition
	// cannot be determined.
	DefaultCeiling = 0x110000
)

// Well-known logical labels recognized by Resolve beyond exact table lookups.
const (
	LabelFull = "full"
	LabelBoot = "boot"
	LabelOTA0 = "ota_0"
	LabelOTA1 = "ota_1"
)

// Kind classifies a partition table entry.
type Kind uint8

const (
	KindApp Kind = iota
	KindData
)

func (k Kind) String() string {
	if k == KindApp {
		return "app"
	}
	return "data"
}

// Subkind refines Kind.
type Subkind uint8

const (
	SubFactory Subkind = iota
	SubOTA0
	SubOTA1
	SubOTAData
	SubPHY
	SubNVS
	SubUnknown
)

func (s Subkind) String() string {
	switch s {
	case SubFactory:
		return "factory"
	case SubOTA0:
		return "ota_0"
	case SubOTA1:
		return "ota_1"
	case SubOTAData:
		return "otadata"
	case SubPHY:
		return "phy"
	case SubNVS:
		return "nvs"
	}
	return "unknown"
}

// Partition is one named flash region. Entries read from the persisted table
// are immutable for the process lifetime. Synthetic marks the fabricated
// pseudo-partitions ("full", and "boot" when the platform does not register a
// bootloader region) so tests can tell them apart from real table rows.
type Partition struct {
	Label     string
	Kind      Kind
	Subkind   Subkind
	Address   uint32
	Size      uint32
	Synthetic bool
}

// End returns the exclusive upper bound of the partition.
func (p Partition) End() uint32 { return p.Address + p.Size }

// IsSlot reports whether the partition is one of the two OTA app slots.
func (p Partition) IsSlot() bool {
	return p.Kind == KindApp && (p.Subkind == SubOTA0 || p.Subkind == SubOTA1)
}

// Window is a derived physical byte range [Base, Limit). It is computed per
// request and never persisted.
type Window struct {
	Base  uint32
	Limit uint32
}

// ClipCeiling truncates the window's end at the ceiling (the running image's
// start address) when the window straddles it. A window entirely below or
// entirely above the ceiling is returned unchanged.
func ClipCeiling(w Window, ceiling uint32) Window {
	if w.Base < ceiling && w.Limit > ceiling {
		w.Limit = ceiling
	}
	return w
}

// overlaps reports whether [w0, w1) intersects [r0, r1). The writer and the
// probe must agree on this byte-for-byte, so both call this one helper.
func overlaps(w0, w1, r0, r1 uint64) bool {
	return !(w1 <= r0 || w0 >= r1)
}

// Directory is the immutable catalog of named flash regions, read once at
// startup. It is an explicitly owned value handed to the resolver, writer and
// cloner; nothing in this package reaches for ambient global state, so tests
// can fabricate a directory directly.
type Directory struct {
	chipSize uint32
	parts    []Partition
}

// NewDirectory builds a directory over the given table entries. Entries must
// be sector-aligned: the writer's erase cursor is sector-quantized and relies
// on window bounds falling on sector boundaries.
func NewDirectory(chipSize, sectorSize uint32, parts []Partition) (*Directory, error) {
	for _, p := range parts {
		if p.Address%sectorSize != 0 || p.Size%sectorSize != 0 {
			return nil, fmt.Errorf("partition %q [0x%06x +0x%x] is not sector-aligned", p.Label, p.Address, p.Size)
		}
		if uint64(p.Address)+uint64(p.Size) > uint64(chipSize) {
			return nil, fmt.Errorf("partition %q [0x%06x +0x%x] extends past the chip", p.Label, p.Address, p.Size)
		}
	}
	return &Directory{chipSize: chipSize, parts: parts}, nil
}

// ChipSize returns the total flash size in bytes.
func (d *Directory) ChipSize() uint32 { return d.chipSize }

// All returns the raw table entries in table order.
func (d *Directory) All() []Partition { return d.parts }

// ByLabel finds a table entry by exact label.
func (d *Directory) ByLabel(label string) (Partition, bool) {
	for _, p := range d.parts {
		if p.Label == label {
			return p, true
		}
	}
	return Partition{}, false
}

// BySubkind finds the first table entry with the given kind and subkind.
func (d *Directory) BySubkind(k Kind, s Subkind) (Partition, bool) {
	for _, p := range d.parts {
		if p.Kind == k && p.Subkind == s {
			return p, true
		}
	}
	return Partition{}, false
}

// Boot returns the bootloader region: the real table entry when one is
// registered, otherwise a synthetic partition covering everything before the
// first OTA slot (bootloader + table + pre-slot metadata), bounded by
// FallbackBootLimit when no OTA slot exists to derive the boundary from.
func (d *Directory) Boot() Partition {
	if p, ok := d.ByLabel(LabelBoot); ok {
		return p
	}
	limit := uint32(FallbackBootLimit)
	if ota0, ok := d.BySubkind(KindApp, SubOTA0); ok {
		limit = ota0.Address
	}
	return Partition{
		Label:     LabelBoot,
		Kind:      KindApp,
		Subkind:   SubFactory,
		Address:   0,
		Size:      limit,
		Synthetic: true,
	}
}

// Full returns the whole-chip pseudo-partition.
func (d *Directory) Full() Partition {
	return Partition{
		Label:     LabelFull,
		Kind:      KindData,
		Subkind:   SubUnknown,
		Address:   0,
		Size:      d.chipSize,
		Synthetic: true,
	}
}

// Resolve turns a logical label into a partition. Recognized labels are the
// "full" and "boot" pseudo-partitions, the OTA slots, and any data partition
// by exact table label. Unknown labels yield ErrUnknownTarget; the caller
// surfaces this as a client error. Resolve is pure and side-effect-free.
func (d *Directory) Resolve(label string) (Partition, error) {
	switch label {
	case LabelFull:
		return d.Full(), nil
	case LabelBoot:
		return d.Boot(), nil
	case LabelOTA0:
		if p, ok := d.BySubkind(KindApp, SubOTA0); ok {
			return p, nil
		}
	case LabelOTA1:
		if p, ok := d.BySubkind(KindApp, SubOTA1); ok {
			return p, nil
		}
	default:
		if p, ok := d.ByLabel(label); ok {
			return p, nil
		}
	}
	return Partition{}, fmt.Errorf("%w: %q", ErrUnknownTarget, label)
}
