// Package cmd implements the rescue-ctl operator CLI: a thin client for the
// rescue agent's HTTP API, used from a laptop on the device's rescue network.
package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	agentURL string
	timeout  time.Duration
)

// NewRootCommand builds the rescue-ctl command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "rescue-ctl",
		Short:         "Operate a device running the flash rescue agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&agentURL, "agent", "a", "http://192.168.4.1:8070",
		"Base URL of the rescue agent")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second,
		"Timeout for inspection requests (transfers are not limited)")

	root.AddCommand(
		newInfoCommand(),
		newMapCommand(),
		newProbeCommand(),
		newBackupCommand(),
		newFlashCommand(),
		newRelocateCommand(),
		newBootswitchCommand(),
	)
	return root
}
