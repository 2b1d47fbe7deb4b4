package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRelocateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "relocate",
		Short: "Clone the running slot to the alternate one and boot from it",
		Long: `Tells the device to copy its running OTA slot into the alternate slot and
flip the boot pointer to it. Used to vacate a slot so it can be flashed with a
new image. The device restarts on success.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res mutationResult
			if err := postJSON("/relocate", nil, nil, 0, &res); err != nil {
				return err
			}
			fmt.Printf("Cloned %d bytes into %q; boot pointer moved.\n", res.BytesWritten, res.Target)
			if res.Restarting {
				fmt.Println("Device is restarting.")
			}
			return nil
		},
	}
}

func newBootswitchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bootswitch",
		Short: "Flip the boot pointer to the alternate slot without copying",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res mutationResult
			if err := postJSON("/bootswitch", nil, nil, 0, &res); err != nil {
				return err
			}
			fmt.Printf("Boot pointer now selects %q.\n", res.Target)
			if res.Restarting {
				fmt.Println("Device is restarting.")
			}
			return nil
		},
	}
}
