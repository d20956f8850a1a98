package app

import (
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
)

// CliOptions abstracts configuration options for reading parameters from the
// command line.
type CliOptions interface {
	// AddFlags adds flags to the specified FlagSet object.
	AddFlags(fs *pflag.FlagSet)

	// Validate would be called after init flags and configration file
	Validate() []error
}

// CompletableOptions is implemented by options that derive fields from the
// parsed flags before validation.
type CompletableOptions interface {
	Complete() error
}

func validate(opts CliOptions) error {
	if c, ok := opts.(CompletableOptions); ok {
		if err := c.Complete(); err != nil {
			return err
		}
	}
	return multierr.Combine(opts.Validate()...)
}
