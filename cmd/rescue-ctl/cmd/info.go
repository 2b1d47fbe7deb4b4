package cmd

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

type agentInfo struct {
	DeviceID   string `json:"deviceId"`
	ChipSize   uint32 `json:"chipSize"`
	SectorSize uint32 `json:"sectorSize"`
	Running    string `json:"running"`
	BootSlot   string `json:"bootSlot"`
	Ceiling    uint32 `json:"ceiling"`
	State      string `json:"state"`
}

func newInfoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show device identity and flash geometry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var info agentInfo
			if err := getJSON("/info", nil, &info); err != nil {
				return err
			}

			table := uitable.New()
			table.AddRow("DEVICE:", info.DeviceID)
			table.AddRow("CHIP SIZE:", fmt.Sprintf("0x%06x (%d bytes)", info.ChipSize, info.ChipSize))
			table.AddRow("SECTOR SIZE:", fmt.Sprintf("0x%04x", info.SectorSize))
			table.AddRow("RUNNING:", info.Running)
			if info.BootSlot != "" {
				table.AddRow("BOOT SLOT:", info.BootSlot)
			}
			table.AddRow("WRITE CEILING:", fmt.Sprintf("0x%06x", info.Ceiling))
			table.AddRow("STATE:", info.State)
			fmt.Println(table)
			return nil
		},
	}
}
