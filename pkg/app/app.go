// Package app provides the shared command scaffold for the project's
// binaries: cobra commands bound to structured options, a viper-backed
// configuration file with live change notification, and uniform startup.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/otarescue-io/otarescue/pkg/log"
)

// RunFunc is the application's entry point, invoked after options are
// unmarshalled, completed and validated.
type RunFunc func() error

// App is a configured command-line application.
type App struct {
	name        string
	shortDesc   string
	description string
	options     CliOptions
	runFunc     RunFunc
	silence     bool
	noConfig    bool
	noArgs      bool

	cmd *cobra.Command
}

// Option configures an App at construction time.
type Option func(*App)

// WithOptions binds the option struct to the command's flags and the config
// file.
func WithOptions(opts CliOptions) Option {
	return func(a *App) {
		a.options = opts
	}
}

// WithRunFunc sets the application entry point.
func WithRunFunc(fn RunFunc) Option {
	return func(a *App) {
		a.runFunc = fn
	}
}

// WithDescription sets the long help text.
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithSilence suppresses cobra's own usage and error output; errors are
// reported once, by us.
func WithSilence() Option {
	return func(a *App) {
		a.silence = true
	}
}

// WithNoConfig disables the --config flag and the config-file machinery.
func WithNoConfig() Option {
	return func(a *App) {
		a.noConfig = true
	}
}

// WithDefaultValidArgs rejects any positional arguments.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.noArgs = true
	}
}

// NewApp builds the application with the given name and short description.
func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  a.silence,
		SilenceErrors: a.silence,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCommand()
		},
	}
	if a.noArgs {
		cmd.Args = cobra.NoArgs
	}

	if a.options != nil {
		a.options.AddFlags(cmd.Flags())
	}
	if !a.noConfig {
		addConfigFlag(a.name, cmd.Flags())
	}

	a.cmd = cmd
}

func (a *App) runCommand() error {
	if a.options != nil {
		if !a.noConfig {
			if err := viper.Unmarshal(a.options); err != nil {
				return fmt.Errorf("failed to unmarshal configuration: %w", err)
			}
		}

		if c, ok := a.options.(CompleteableOptions); ok {
			if err := c.Complete(); err != nil {
				return err
			}
		}

		if errs := a.options.Validate(); len(errs) != 0 {
			for _, err := range errs {
				log.Error(err, "Invalid option")
			}
			return fmt.Errorf("%d invalid configuration option(s)", len(errs))
		}
	}

	if a.runFunc != nil {
		return a.runFunc()
	}
	return nil
}

// Command exposes the underlying cobra command, e.g. for doc generation.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the application and exits non-zero on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
