package flash

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otarescue-io/otarescue/internal/flash/flashtest"
)

func erasedEntry() []byte {
	return bytes.Repeat([]byte{0xFF}, tableEntrySize)
}

func checksumEntry() []byte {
	entry := make([]byte, tableEntrySize)
	binary.LittleEndian.PutUint16(entry[0:2], checksumMagic)
	return entry
}

func TestTableRoundtrip(t *testing.T) {
	want := testParts()

	var raw []byte
	for _, p := range want {
		raw = AppendEntry(raw, p)
	}
	raw = append(raw, erasedEntry()...)

	got, err := parseTable(raw)
	require.NoError(t, err)
	require.Len(t, got, len(want))

	for i := range want {
		assert.Equal(t, want[i].Label, got[i].Label)
		assert.Equal(t, want[i].Kind, got[i].Kind)
		assert.Equal(t, want[i].Subkind, got[i].Subkind)
		assert.Equal(t, want[i].Address, got[i].Address)
		assert.Equal(t, want[i].Size, got[i].Size)
		assert.False(t, got[i].Synthetic)
	}
}

func TestParseTableStopsAtChecksum(t *testing.T) {
	var raw []byte
	raw = AppendEntry(raw, testParts()[0])
	raw = append(raw, checksumEntry()...)
	// Garbage past the terminator must not be decoded.
	raw = append(raw, bytes.Repeat([]byte{0xAB}, tableEntrySize)...)

	got, err := parseTable(raw)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestParseTableBadMagic(t *testing.T) {
	raw := bytes.Repeat([]byte{0x12}, tableEntrySize)
	_, err := parseTable(raw)
	assert.Error(t, err)
}

func TestParseEntryRejectsEmptyLabel(t *testing.T) {
	entry := make([]byte, tableEntrySize)
	binary.LittleEndian.PutUint16(entry[0:2], entryMagic)
	entry[2] = typeApp
	_, err := parseEntry(entry)
	assert.Error(t, err)
}

func TestReadDirectoryFromDevice(t *testing.T) {
	dev := flashtest.New(testChipSize, testSectorSize)

	var raw []byte
	for _, p := range testParts() {
		raw = AppendEntry(raw, p)
	}
	raw = append(raw, checksumEntry()...)

	const tableOffset = 0x8000
	dev.Load(tableOffset, raw)

	dir, err := ReadDirectory(dev, tableOffset)
	require.NoError(t, err)

	p, err := dir.Resolve("ota_1")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1F0000), p.Address)

	_, err = dir.Resolve("missing")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestReadDirectoryEmptyTable(t *testing.T) {
	dev := flashtest.New(testChipSize, testSectorSize)
	_, err := ReadDirectory(dev, 0x8000)
	assert.Error(t, err)
}
