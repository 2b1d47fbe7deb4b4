package options

import (
	"fmt"
	"net"

	"github.com/spf13/pflag"
)

// IOptions is implemented by every reusable option group. Groups bind their
// flags to a FlagSet and validate themselves after parsing.
type IOptions interface {
	// Validate validates all the options and returns the collected errors.
	Validate() []error

	// AddFlags adds flags related to the option group to the specified FlagSet.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress verifies that addr is a host:port the server can bind.
func ValidateAddress(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%q is not a valid listen address: %w", addr, err)
	}
	return nil
}
