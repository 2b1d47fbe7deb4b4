package cmd

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

type mutationResult struct {
	Op            string `json:"op"`
	Target        string `json:"target"`
	BytesWritten  uint32 `json:"bytesWritten"`
	SectorsErased uint32 `json:"sectorsErased"`
	Restarting    bool   `json:"restarting"`
}

func newFlashCommand() *cobra.Command {
	var (
		target string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "flash IMAGE",
		Short: "Stream an image file into a partition",
		Long: `Probes the target first and aborts if the agent reports the write would be
rejected, then streams the image. On success the device restarts into the new
contents; expect the connection to drop shortly after the response.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			fi, err := f.Stat()
			if err != nil {
				return err
			}
			if fi.Size() == 0 {
				return fmt.Errorf("%s is empty", args[0])
			}

			if !force {
				res, err := probeTarget(target, uint32(fi.Size()))
				if err != nil {
					return err
				}
				if !res.OK {
					return fmt.Errorf("refusing to flash: %s (use --force to skip the probe)", verdict(res))
				}
			}

			q := url.Values{}
			q.Set("target", target)

			fmt.Printf("Flashing %s (%d bytes) to %q...\n", args[0], fi.Size(), target)
			var res mutationResult
			if err := postJSON("/flash", q, f, fi.Size(), &res); err != nil {
				return err
			}

			fmt.Printf("Wrote %d bytes, erased %d sectors.\n", res.BytesWritten, res.SectorsErased)
			if res.Restarting {
				fmt.Println("Device is restarting.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "boot", "Target partition label")
	cmd.Flags().BoolVar(&force, "force", false, "Skip the pre-flight probe")
	return cmd
}
