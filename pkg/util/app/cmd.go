package app

import (
	"github.com/spf13/cobra"
)

// Command is a sub command structure of a cli application.
type Command struct {
	usage    string
	desc     string
	example  string
	args     cobra.PositionalArgs
	options  CliOptions
	commands []*Command
	runFunc  RunCommandFunc
}

// RunCommandFunc runs a sub command with its positional arguments.
type RunCommandFunc func(args []string) error
type CommandOption func(*Command)

func NewCommand(usage string, desc string, opts ...CommandOption) *Command {
	c := &Command{
		usage: usage,
		desc:  desc,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

func (c *Command) AddCommand(cmd *Command) {
	c.commands = append(c.commands, cmd)
}

func (c *Command) AddCommands(cmds ...*Command) {
	c.commands = append(c.commands, cmds...)
}

func (c *Command) cobraCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     c.usage,
		Short:   c.desc,
		Example: c.example,
		Args:    c.args,
	}
	cmd.Flags().SortFlags = false
	if len(c.commands) > 0 {
		for _, command := range c.commands {
			cmd.AddCommand(command.cobraCommand())
		}
	}
	if c.runFunc != nil {
		cmd.RunE = c.runCommand
	}
	if c.options != nil {
		c.options.AddFlags(cmd.Flags())
	}
	addHelpCommandFlag(c.usage, cmd.Flags())
	return cmd
}

func (c *Command) runCommand(cmd *cobra.Command, args []string) error {
	if err := applyConfig(cmd.Flags()); err != nil {
		return err
	}
	if c.options != nil {
		if err := validate(c.options); err != nil {
			return err
		}
	}
	return c.runFunc(args)
}

// WithCommandOptions to open the application's function to read from the
// command line.
func WithCommandOptions(opt CliOptions) CommandOption {
	return func(c *Command) {
		c.options = opt
	}
}

// WithCommandRunFunc is used to set the application's command startup callback
// function option.
func WithCommandRunFunc(run RunCommandFunc) CommandOption {
	return func(c *Command) {
		c.runFunc = run
	}
}

func WithCommandExample(example string) CommandOption {
	return func(c *Command) {
		c.example = example
	}
}

func WithCommandArgs(args cobra.PositionalArgs) CommandOption {
	return func(c *Command) {
		c.args = args
	}
}
