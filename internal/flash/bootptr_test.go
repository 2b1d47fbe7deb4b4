package flash

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otarescue-io/otarescue/internal/flash/flashtest"
)

func testBootStore(t *testing.T) (*BootStore, *flashtest.Device) {
	t.Helper()
	dev := flashtest.New(testChipSize, testSectorSize)
	otadata := Partition{Label: "otadata", Kind: KindData, Subkind: SubOTAData, Address: 0xD000, Size: 0x2000}
	s, err := NewBootStore(dev, otadata)
	require.NoError(t, err)
	return s, dev
}

func TestNewBootStoreRejectsSmallPartition(t *testing.T) {
	dev := flashtest.New(testChipSize, testSectorSize)
	_, err := NewBootStore(dev, Partition{Label: "otadata", Address: 0xD000, Size: 0x1000})
	assert.Error(t, err)
}

func TestBootStoreBlankSelectsSlotZero(t *testing.T) {
	s, _ := testBootStore(t)
	slot, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, 0, slot)
}

func TestBootStoreSetSlot(t *testing.T) {
	s, dev := testBootStore(t)

	require.NoError(t, s.SetSlot(1))
	slot, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, 1, slot)
	assert.Equal(t, 1, len(dev.Erases))
	assert.Equal(t, 1, len(dev.Writes))

	// Selecting the already-current slot must not touch flash.
	dev.Reset()
	require.NoError(t, s.SetSlot(1))
	assert.Zero(t, dev.MutationCalls())

	// Flipping back commits into the other sector and leaves the previous
	// sequence in place until the new one is programmed.
	require.NoError(t, s.SetSlot(0))
	slot, err = s.Current()
	require.NoError(t, err)
	assert.Equal(t, 0, slot)
	assert.NotEqual(t, dev.Erases[0], dev.Erases[len(dev.Erases)-1],
		"consecutive flips must alternate otadata sectors")
}

func TestBootStoreSetSlotInvalid(t *testing.T) {
	s, _ := testBootStore(t)
	assert.Error(t, s.SetSlot(2))
	assert.Error(t, s.SetSlot(-1))
}

func TestBootStoreInterruptedFlipKeepsSelection(t *testing.T) {
	s, dev := testBootStore(t)
	require.NoError(t, s.SetSlot(1))

	// An erase failure during the next flip must abort before anything is
	// programmed, so the old selection survives.
	dev.EraseErr = func(sector uint32) error { return errors.New("power dip") }
	err := s.SetSlot(0)
	require.Error(t, err)
	var ioErr *IOError
	assert.ErrorAs(t, err, &ioErr)

	dev.EraseErr = nil
	slot, err := s.Current()
	require.NoError(t, err)
	assert.Equal(t, 1, slot)
}
