package cmd

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

type partitionEntry struct {
	Label     string `json:"label"`
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	Offset    uint32 `json:"offset"`
	Size      uint32 `json:"size"`
	Synthetic bool   `json:"synthetic"`
}

func newMapCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "map",
		Short: "Show the device's partition map",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var entries []partitionEntry
			if err := getJSON("/map", nil, &entries); err != nil {
				return err
			}

			table := uitable.New()
			table.AddRow("LABEL", "TYPE", "SUBTYPE", "OFFSET", "END", "SIZE")
			for _, e := range entries {
				label := e.Label
				if e.Synthetic {
					label += "*"
				}
				table.AddRow(
					label,
					e.Type,
					e.Subtype,
					fmt.Sprintf("0x%06x", e.Offset),
					fmt.Sprintf("0x%06x", e.Offset+e.Size),
					fmt.Sprintf("%d", e.Size),
				)
			}
			fmt.Println(table)
			fmt.Println("\n* synthetic pseudo-partition")
			return nil
		},
	}
}
