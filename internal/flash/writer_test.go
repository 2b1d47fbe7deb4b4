package flash

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otarescue-io/otarescue/internal/flash/flashtest"
)

// rescueEngine models the rescue scenario: the device executes from the boot
// region at [0x002000, 0x00F000) and the only slot is ota_1 at
// [0x010000, 0x0EB000).
func rescueEngine(t *testing.T) (*Engine, *flashtest.Device) {
	t.Helper()
	dev := flashtest.New(testChipSize, testSectorSize)
	dir, err := NewDirectory(testChipSize, testSectorSize, []Partition{
		{Label: "ota_1", Kind: KindApp, Subkind: SubOTA1, Address: 0x010000, Size: 0x0DB000},
		{Label: "otadata", Kind: KindData, Subkind: SubOTAData, Address: 0x0EB000, Size: 0x2000},
	})
	require.NoError(t, err)

	otadata, ok := dir.ByLabel("otadata")
	require.True(t, ok)
	boot, err := NewBootStore(dev, otadata)
	require.NoError(t, err)

	running := Partition{
		Label:     "boot",
		Kind:      KindApp,
		Subkind:   SubFactory,
		Address:   0x002000,
		Size:      0x00D000,
		Synthetic: true,
	}
	return NewEngine(dir, dev, boot, running, true), dev
}

// slotEngine models normal dual-slot operation: running from ota_0 with a
// smaller ota_1 alongside.
func slotEngine(t *testing.T) (*Engine, *flashtest.Device) {
	t.Helper()
	dev := flashtest.New(testChipSize, testSectorSize)
	dir, err := NewDirectory(testChipSize, testSectorSize, []Partition{
		{Label: "otadata", Kind: KindData, Subkind: SubOTAData, Address: 0xD000, Size: 0x2000},
		{Label: "ota_0", Kind: KindApp, Subkind: SubOTA0, Address: 0x10000, Size: 0x3000},
		{Label: "ota_1", Kind: KindApp, Subkind: SubOTA1, Address: 0x13000, Size: 0x2000},
	})
	require.NoError(t, err)

	otadata, ok := dir.ByLabel("otadata")
	require.True(t, ok)
	boot, err := NewBootStore(dev, otadata)
	require.NoError(t, err)

	running, ok := dir.ByLabel("ota_0")
	require.True(t, ok)
	return NewEngine(dir, dev, boot, running, true), dev
}

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i % 251)
	}
	return p
}

func TestWriteEndToEnd(t *testing.T) {
	e, dev := rescueEngine(t)
	payload := pattern(6000)

	stats, err := e.Write("ota_1", bytes.NewReader(payload), 6000)
	require.NoError(t, err)

	assert.Equal(t, uint32(6000), stats.BytesWritten)
	assert.Equal(t, uint32(2), stats.SectorsErased)

	// Erases cover exactly the written range, in address order, once each.
	assert.Equal(t, []uint32{0x10, 0x11}, dev.Erases)

	assert.Equal(t, payload, dev.Mem()[0x010000:0x010000+6000])

	// Bytes past the payload inside the erased sectors stay erased.
	for _, b := range dev.Mem()[0x010000+6000 : 0x012000] {
		require.Equal(t, byte(0xFF), b)
	}
}

func TestWritePadsFinalChunk(t *testing.T) {
	e, dev := rescueEngine(t)
	payload := pattern(1026)

	stats, err := e.Write("ota_1", bytes.NewReader(payload), 1026)
	require.NoError(t, err)
	assert.Equal(t, uint32(1026), stats.BytesWritten)

	require.Len(t, dev.Writes, 2)
	last := dev.Writes[1]
	assert.Equal(t, uint32(0x010000+1024), last.Addr)
	require.Len(t, last.Data, 4)
	assert.Equal(t, byte(0xFF), last.Data[2])
	assert.Equal(t, byte(0xFF), last.Data[3])
}

func TestWriteRejectsOverlapWithoutTouchingFlash(t *testing.T) {
	e, dev := slotEngine(t)

	_, err := e.Write("ota_0", bytes.NewReader(pattern(0x1000)), 0x1000)
	assert.ErrorIs(t, err, ErrOverlapsRunningImage)
	assert.Zero(t, dev.MutationCalls())
}

func TestWriteLengthChecks(t *testing.T) {
	e, dev := rescueEngine(t)

	_, err := e.Write("ota_1", bytes.NewReader(nil), 0)
	assert.ErrorIs(t, err, ErrLengthOutOfRange)

	_, err = e.Write("ota_1", bytes.NewReader(nil), 0x0DB001)
	assert.ErrorIs(t, err, ErrLengthOutOfRange)

	assert.Zero(t, dev.MutationCalls())
}

func TestWriteLengthCheckedAgainstClippedWindow(t *testing.T) {
	e, dev := rescueEngine(t)

	// "boot" nominally spans [0, 0x6000) but the running image starts at
	// 0x2000, so the usable window ends there.
	_, err := e.Write("boot", bytes.NewReader(pattern(0x3000)), 0x3000)
	assert.ErrorIs(t, err, ErrLengthOutOfRange)
	assert.Zero(t, dev.MutationCalls())
}

func TestWriteUnknownTarget(t *testing.T) {
	e, dev := rescueEngine(t)

	_, err := e.Write("nope", bytes.NewReader(pattern(16)), 16)
	assert.ErrorIs(t, err, ErrUnknownTarget)
	assert.Zero(t, dev.MutationCalls())
}

func TestWriteMagicCheckAtOffsetZero(t *testing.T) {
	e, dev := rescueEngine(t)

	bad := pattern(0x1000)
	bad[0] = 0x00
	_, err := e.Write("boot", bytes.NewReader(bad), 0x1000)
	assert.ErrorIs(t, err, ErrBadImageMagic)
	assert.Zero(t, dev.MutationCalls())

	good := pattern(0x1000)
	good[0] = ImageMagic
	stats, err := e.Write("boot", bytes.NewReader(good), 0x1000)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), stats.BytesWritten)
	assert.Equal(t, good, dev.Mem()[:0x1000])
}

func TestWriteMidstreamEraseFailure(t *testing.T) {
	e, dev := rescueEngine(t)
	dev.EraseErr = func(sector uint32) error {
		if sector == 0x11 {
			return errors.New("timeout")
		}
		return nil
	}

	stats, err := e.Write("ota_1", bytes.NewReader(pattern(6000)), 6000)
	require.Error(t, err)

	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "erase", ioErr.Op)
	assert.Equal(t, uint32(0x011000), ioErr.Addr)

	// The first sector's worth of chunks landed before the failure.
	assert.Equal(t, uint32(0x1000), stats.BytesWritten)
	assert.Equal(t, uint32(1), stats.SectorsErased)
	assert.Equal(t, pattern(6000)[:0x1000], dev.Mem()[0x010000:0x011000])
}

func TestWriteShortStream(t *testing.T) {
	e, dev := rescueEngine(t)

	_, err := e.Write("ota_1", bytes.NewReader(pattern(1000)), 2048)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// The first chunk never arrived in full, so nothing was erased.
	assert.Zero(t, dev.MutationCalls())
}
