package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/otarescue-io/otarescue/cmd/rescue-agent/app/options"
	"github.com/otarescue-io/otarescue/pkg/app"
	"github.com/otarescue-io/otarescue/pkg/log"
)

const (
	commandName = "rescue-agent"
	commandDesc = `The rescue agent runs on a device whose firmware must be replaced in the
field. It exposes the partition map over HTTP, streams replacement images
safely into flash without ever touching the running image, clones the running
slot to the alternate one, and flips the boot pointer. After any successful
mutation the device restarts into the new layout.`
)

// NewApp builds the rescue-agent command.
func NewApp() *app.App {
	opts := options.NewAgentOptions()
	return app.NewApp(
		commandName,
		"Launch the on-device flash rescue agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
