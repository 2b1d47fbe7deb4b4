package flash

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Persisted partition table layout: 32-byte entries starting at the table
// offset, terminated by an all-0xFF entry (erased flash) or a checksum entry.
const (
	tableEntrySize  = 32
	tableMaxEntries = 95

	entryMagic    = 0x50AA // little-endian "AA 50"
	checksumMagic = 0xEBEB

	typeApp  = 0x00
	typeData = 0x01

	subtypeFactory = 0x00
	subtypeOTA0    = 0x10
	subtypeOTA1    = 0x11
	subtypeOTAData = 0x00
	subtypePHY     = 0x01
	subtypeNVS     = 0x02
)

// ReadDirectory reads and parses the persisted partition table from flash and
// returns the immutable directory for the process lifetime.
func ReadDirectory(dev Device, tableOffset uint32) (*Directory, error) {
	raw := make([]byte, tableMaxEntries*tableEntrySize)
	if err := dev.ReadAt(tableOffset, raw); err != nil {
		return nil, &IOError{Op: "read", Addr: tableOffset, Err: err}
	}

	parts, err := parseTable(raw)
	if err != nil {
		return nil, fmt.Errorf("partition table at 0x%06x: %w", tableOffset, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("partition table at 0x%06x: no entries", tableOffset)
	}

	return NewDirectory(dev.ChipSize(), dev.SectorSize(), parts)
}

// parseTable decodes raw table bytes into partition entries.
func parseTable(raw []byte) ([]Partition, error) {
	var parts []Partition

	for i := 0; i+tableEntrySize <= len(raw); i += tableEntrySize {
		entry := raw[i : i+tableEntrySize]
		magic := binary.LittleEndian.Uint16(entry[0:2])

		switch magic {
		case checksumMagic:
			return parts, nil
		case 0xFFFF: // erased flash, end of table
			return parts, nil
		case entryMagic:
			// fall through to decode
		default:
			return nil, fmt.Errorf("entry %d: bad magic 0x%04x", i/tableEntrySize, magic)
		}

		p, err := parseEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i/tableEntrySize, err)
		}
		parts = append(parts, p)
	}

	return parts, nil
}

func parseEntry(entry []byte) (Partition, error) {
	var (
		typ     = entry[2]
		subtype = entry[3]
		offset  = binary.LittleEndian.Uint32(entry[4:8])
		size    = binary.LittleEndian.Uint32(entry[8:12])
		label   = entry[12:28]
	)

	name := string(bytes.TrimRight(label, "\x00"))
	if name == "" {
		return Partition{}, fmt.Errorf("empty label")
	}

	p := Partition{Label: name, Address: offset, Size: size}

	switch typ {
	case typeApp:
		p.Kind = KindApp
		switch subtype {
		case subtypeFactory:
			p.Subkind = SubFactory
		case subtypeOTA0:
			p.Subkind = SubOTA0
		case subtypeOTA1:
			p.Subkind = SubOTA1
		default:
			p.Subkind = SubUnknown
		}
	case typeData:
		p.Kind = KindData
		switch subtype {
		case subtypeOTAData:
			p.Subkind = SubOTAData
		case subtypePHY:
			p.Subkind = SubPHY
		case subtypeNVS:
			p.Subkind = SubNVS
		default:
			p.Subkind = SubUnknown
		}
	default:
		return Partition{}, fmt.Errorf("label %q: unknown type 0x%02x", name, typ)
	}

	return p, nil
}

// AppendEntry serializes a partition as a raw table entry. Used by tests and
// by bench tooling that fabricates images.
func AppendEntry(raw []byte, p Partition) []byte {
	entry := make([]byte, tableEntrySize)
	binary.LittleEndian.PutUint16(entry[0:2], entryMagic)

	switch p.Kind {
	case KindApp:
		entry[2] = typeApp
		switch p.Subkind {
		case SubOTA0:
			entry[3] = subtypeOTA0
		case SubOTA1:
			entry[3] = subtypeOTA1
		default:
			entry[3] = subtypeFactory
		}
	case KindData:
		entry[2] = typeData
		switch p.Subkind {
		case SubPHY:
			entry[3] = subtypePHY
		case SubNVS:
			entry[3] = subtypeNVS
		default:
			entry[3] = subtypeOTAData
		}
	}

	binary.LittleEndian.PutUint32(entry[4:8], p.Address)
	binary.LittleEndian.PutUint32(entry[8:12], p.Size)
	copy(entry[12:28], p.Label)

	return append(raw, entry...)
}
