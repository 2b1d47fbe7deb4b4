package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*FlashOptions)(nil)

// FlashOptions describes the physical flash the agent operates on.
type FlashOptions struct {
	// ImagePath is the raw flash backing (a device node such as /dev/mtdblock0,
	// or a plain image file in bench setups).
	ImagePath string `json:"image-path" mapstructure:"image-path"`

	// ChipSize is the total flash size in bytes.
	ChipSize uint32 `json:"chip-size" mapstructure:"chip-size"`

	// SectorSize is the minimum erasable unit.
	SectorSize uint32 `json:"sector-size" mapstructure:"sector-size"`

	// TableOffset is the byte offset of the persisted partition table.
	TableOffset uint32 `json:"table-offset" mapstructure:"table-offset"`

	// RunningLabel overrides running-partition detection. When empty the agent
	// assumes it is executing from the slot the boot pointer selects.
	RunningLabel string `json:"running-label" mapstructure:"running-label"`

	// DeviceID identifies this device in MQTT topics and backup object keys.
	DeviceID string `json:"device-id" mapstructure:"device-id"`
}

// NewFlashOptions creates FlashOptions with the platform defaults
// (4 MiB chip, 4 KiB sectors, table at 0x8000).
func NewFlashOptions() *FlashOptions {
	return &FlashOptions{
		ImagePath:   "/dev/mtdblock0",
		ChipSize:    0x400000,
		SectorSize:  0x1000,
		TableOffset: 0x8000,
		DeviceID:    "device-001",
	}
}

func (o *FlashOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.ImagePath == "" {
		errors = append(errors, fmt.Errorf("flash.image-path is required"))
	}
	if o.SectorSize == 0 || o.SectorSize&(o.SectorSize-1) != 0 {
		errors = append(errors, fmt.Errorf("flash.sector-size %d must be a nonzero power of two", o.SectorSize))
	}
	if o.ChipSize == 0 || (o.SectorSize != 0 && o.ChipSize%o.SectorSize != 0) {
		errors = append(errors, fmt.Errorf("flash.chip-size %d must be a multiple of the sector size", o.ChipSize))
	}
	if o.TableOffset >= o.ChipSize {
		errors = append(errors, fmt.Errorf("flash.table-offset 0x%x is beyond the chip", o.TableOffset))
	}

	return errors
}

func (o *FlashOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.ImagePath, "flash.image-path", o.ImagePath, "Path to the raw flash backing (device node or image file).")
	fs.Uint32Var(&o.ChipSize, "flash.chip-size", o.ChipSize, "Total flash size in bytes.")
	fs.Uint32Var(&o.SectorSize, "flash.sector-size", o.SectorSize, "Flash sector (erase unit) size in bytes.")
	fs.Uint32Var(&o.TableOffset, "flash.table-offset", o.TableOffset, "Byte offset of the persisted partition table.")
	fs.StringVar(&o.RunningLabel, "flash.running-label", o.RunningLabel, "Override the running-partition label (defaults to the boot pointer's selection).")
	fs.StringVar(&o.DeviceID, "flash.device-id", o.DeviceID, "Device identity used in MQTT topics and backup object keys.")
}
