package app

import (
	"github.com/spf13/pflag"
)

// CliOptions abstracts the option structs a command binds to its flag set.
type CliOptions interface {
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
	Validate() []error
}

// CompleteableOptions fill in derived or defaulted fields after flags and
// config files are parsed.
type CompleteableOptions interface {
	Complete() error
}
