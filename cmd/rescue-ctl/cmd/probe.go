package cmd

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

type probeResult struct {
	OK       bool   `json:"ok"`
	Label    string `json:"label"`
	Base     uint32 `json:"base"`
	Limit    uint32 `json:"limit"`
	WriteLen uint32 `json:"writeLen"`
	WriteEnd uint32 `json:"writeEnd"`
	Overlap  bool   `json:"overlap"`
	Running  string `json:"running"`
}

func probeTarget(target string, length uint32) (probeResult, error) {
	q := url.Values{}
	q.Set("target", target)
	q.Set("len", strconv.FormatUint(uint64(length), 10))

	var res probeResult
	err := getJSON("/probe", q, &res)
	return res, err
}

func newProbeCommand() *cobra.Command {
	var length uint32

	cmd := &cobra.Command{
		Use:   "probe TARGET",
		Short: "Dry-run a write: show the resolved window and overlap verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := probeTarget(args[0], length)
			if err != nil {
				return err
			}

			table := uitable.New()
			table.AddRow("TARGET:", res.Label)
			table.AddRow("WINDOW:", fmt.Sprintf("[0x%06x, 0x%06x)", res.Base, res.Limit))
			table.AddRow("WRITE RANGE:", fmt.Sprintf("[0x%06x, 0x%06x)", res.Base, res.WriteEnd))
			table.AddRow("RUNNING:", res.Running)
			table.AddRow("OVERLAP:", fmt.Sprintf("%v", res.Overlap))
			table.AddRow("VERDICT:", verdict(res))
			fmt.Println(table)

			if !res.OK {
				return fmt.Errorf("a write with these parameters would be rejected")
			}
			return nil
		},
	}

	cmd.Flags().Uint32Var(&length, "len", 0, "Intended write length in bytes (0 probes the whole window)")
	return cmd
}

func verdict(res probeResult) string {
	if res.OK {
		return "safe to write"
	}
	if res.Overlap {
		return "REJECTED: range overlaps the running image"
	}
	return "REJECTED: length exceeds the usable window"
}
