package flash

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otarescue-io/otarescue/internal/flash/flashtest"
)

func TestCloneRunningToOther(t *testing.T) {
	e, dev := slotEngine(t)
	src := pattern(0x3000)
	dev.Load(0x10000, src)
	dev.Reset()

	dst, stats, err := e.CloneRunningToOther()
	require.NoError(t, err)
	assert.Equal(t, "ota_1", dst.Label)

	// Only min(src, dst) bytes move; ota_1 is a sector smaller than ota_0.
	assert.Equal(t, uint32(0x2000), stats.BytesWritten)
	assert.Equal(t, uint32(2), stats.SectorsErased)
	assert.Equal(t, src[:0x2000], dev.Mem()[0x13000:0x15000])

	slot, err := e.boot.Current()
	require.NoError(t, err)
	assert.Equal(t, 1, slot)
}

func TestCloneFailureLeavesBootPointer(t *testing.T) {
	e, dev := slotEngine(t)
	dev.Load(0x10000, pattern(0x3000))

	dev.WriteErr = func(addr uint32) error {
		if addr >= 0x13000 && addr < 0x15000 {
			return errors.New("program failed")
		}
		return nil
	}

	_, _, err := e.CloneRunningToOther()
	require.Error(t, err)

	var cloneErr *CloneError
	require.ErrorAs(t, err, &cloneErr)
	assert.Equal(t, "ota_0", cloneErr.Src)
	assert.Equal(t, "ota_1", cloneErr.Dst)

	dev.WriteErr = nil
	slot, err := e.boot.Current()
	require.NoError(t, err)
	assert.Equal(t, 0, slot, "boot pointer must not move after a failed clone")
}

func TestCloneBootFlipFailure(t *testing.T) {
	e, dev := slotEngine(t)
	dev.Load(0x10000, pattern(0x3000))

	// Fail only the otadata erase; the data copy itself succeeds.
	dev.EraseErr = func(sector uint32) error {
		if sector == 0xD || sector == 0xE {
			return errors.New("worn sector")
		}
		return nil
	}

	_, _, err := e.CloneRunningToOther()
	assert.ErrorIs(t, err, ErrSetBootFailed)
}

func TestCloneRequiresRunningSlot(t *testing.T) {
	// The rescue scenario runs from the boot region, not from an OTA slot.
	e, dev := rescueEngine(t)

	_, _, err := e.CloneRunningToOther()
	assert.ErrorIs(t, err, ErrNoAlternateSlot)
	assert.Zero(t, dev.MutationCalls())
}

func TestCloneRequiresAlternateSlot(t *testing.T) {
	dev := flashtest.New(testChipSize, testSectorSize)
	dir, err := NewDirectory(testChipSize, testSectorSize, []Partition{
		{Label: "otadata", Kind: KindData, Subkind: SubOTAData, Address: 0xD000, Size: 0x2000},
		{Label: "ota_0", Kind: KindApp, Subkind: SubOTA0, Address: 0x10000, Size: 0x3000},
	})
	require.NoError(t, err)
	otadata, _ := dir.ByLabel("otadata")
	boot, err := NewBootStore(dev, otadata)
	require.NoError(t, err)
	running, _ := dir.ByLabel("ota_0")
	e := NewEngine(dir, dev, boot, running, true)

	_, _, err = e.CloneRunningToOther()
	assert.ErrorIs(t, err, ErrNoAlternateSlot)
}

func TestSwitchBootToOther(t *testing.T) {
	e, dev := slotEngine(t)

	dst, err := e.SwitchBootToOther()
	require.NoError(t, err)
	assert.Equal(t, "ota_1", dst.Label)

	// Only the boot pointer moved; no slot data was touched.
	assert.Len(t, dev.Erases, 1)
	assert.Len(t, dev.Writes, 1)

	slot, err := e.boot.Current()
	require.NoError(t, err)
	assert.Equal(t, 1, slot)

	// A second switch targets the same alternate slot and is a no-op.
	dev.Reset()
	dst, err = e.SwitchBootToOther()
	require.NoError(t, err)
	assert.Equal(t, "ota_1", dst.Label)
	assert.Zero(t, dev.MutationCalls())
}
