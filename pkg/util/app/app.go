package app

import (
	"fmt"
	"os"

	"commitlog/pkg/util/app/version"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

var (
	progressMessage = color.GreenString("==>")
	usageTemplate   = fmt.Sprintf(`%s{{if .Runnable}}
  %s{{end}}{{if .HasAvailableSubCommands}}
  %s{{end}}{{if gt (len .Aliases) 0}}

%s
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

%s
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

%s{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  %s {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

%s
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

%s
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

%s{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "%s --help" for more information about a command.{{end}}
`,
		color.CyanString("Usage:"),
		color.GreenString("{{.UseLine}}"),
		color.GreenString("{{.CommandPath}} [command]"),
		color.CyanString("Aliases:"),
		color.CyanString("Examples:"),
		color.CyanString("Available Commands:"),
		color.GreenString("{{rpad .Name .NamePadding }}"),
		color.CyanString("Flags:"),
		color.CyanString("Global Flags:"),
		color.CyanString("Additional help topics:"),
		color.GreenString("{{.CommandPath}} [command]"),
	)
)

// App is the main structure of a cli application.
// It is recommended that an app be created with the app.NewApp() function.
type App struct {
	name         string
	description  string
	options      CliOptions
	runFunc      RunFunc
	silence      bool
	noVersion    bool
	noConfig     bool
	commands     []*Command
	logs         *logOptions
	configurable interface{}
}

// Option defines optional parameters for initializing the application
// structure.
type Option func(*App)

// WithOptions to open the application's function to read from the command line
// or read parameters from the configuration file.
func WithOptions(opt CliOptions) Option {
	return func(a *App) {
		a.options = opt
	}
}

// RunFunc defines the application's startup callback function.
type RunFunc func(basename string) error

// WithRunFunc is used to set the application startup callback function option.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) {
		a.runFunc = run
	}
}

// WithDescription is used to set the description of the application.
func WithDescription(desc string) Option {
	return func(a *App) {
		a.description = desc
	}
}

// WithSilence sets the application to silent mode, in which the program startup
// information, configuration information, and version information are not
// printed in the console.
func WithSilence() Option {
	return func(a *App) {
		a.silence = true
	}
}

// WithNoVersion set the application does not provide version flag.
func WithNoVersion() Option {
	return func(a *App) {
		a.noVersion = true
	}
}

// WithNoConfig drops the --config flag.
func WithNoConfig() Option {
	return func(a *App) {
		a.noConfig = true
	}
}

// WithConfiguration would Unmarshal configuration file into conf
func WithConfiguration(conf interface{}) Option {
	return func(a *App) {
		a.configurable = conf
	}
}

// NewApp creates a new application instance based on the given application name,
// binary name, and other options.
func NewApp(name string, opts ...Option) *App {
	a := &App{
		name: name,
		logs: newLogOptions(),
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

// Command builds the cobra command tree without executing it.
func (a *App) Command() *cobra.Command {
	initFlag()

	cmd := &cobra.Command{
		Use:           FormatBaseName(a.name),
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetUsageTemplate(usageTemplate)
	cmd.SetGlobalNormalizationFunc(wordSepNormalizeFunc)
	cmd.Flags().SortFlags = false
	if len(a.commands) > 0 {
		for _, command := range a.commands {
			cmd.AddCommand(command.cobraCommand())
		}
		cmd.SetHelpCommand(helpCommand(a.name))
	}
	if a.runFunc != nil {
		cmd.RunE = a.runCommand
	} else if !a.noVersion {
		cmd.RunE = func(c *cobra.Command, _ []string) error {
			if version.Print(c.OutOrStdout(), a.name) {
				return nil
			}
			return c.Help()
		}
	}

	// subcommands inherit the config and logging flags
	if !a.noConfig {
		addConfigFlag(a.name, cmd.PersistentFlags())
	}
	a.logs.AddFlags(cmd.PersistentFlags())
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		return a.logs.apply()
	}

	if a.options != nil {
		a.options.AddFlags(cmd.Flags())
	}

	if !a.noVersion {
		version.AddFlags(cmd.Flags())
	}
	addHelpFlag(a.name, cmd.Flags())
	return cmd
}

// Run is used to launch the application.
func (a *App) Run() {
	err := a.Command().Execute()
	klog.Flush()
	if err != nil {
		fmt.Printf("%v %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func (a *App) runCommand(cmd *cobra.Command, args []string) error {
	if !a.noVersion {
		version.PrintAndExitIfRequested(a.name)
	}
	if !a.silence {
		fmt.Printf("%v Starting %s...\n", progressMessage, a.name)
		wd, _ := os.Getwd()
		fmt.Printf("%v WorkingDir: %s\n", progressMessage, wd)
		fmt.Printf("%v Args: %v\n", progressMessage, os.Args)
	}

	if err := applyConfig(cmd.Flags()); err != nil {
		return err
	}
	if a.configurable != nil {
		if err := viper.Unmarshal(a.configurable); err != nil {
			return err
		}
		if !a.silence {
			printConfig()
		}
	}

	if a.options != nil {
		if err := validate(a.options); err != nil {
			return err
		}
	}

	if !a.silence && !a.noVersion {
		fmt.Printf("%v Version:\n", progressMessage)
		fmt.Printf("%s\n", version.Get())
	}

	if a.runFunc != nil {
		return a.runFunc(a.name)
	}
	return nil
}

// AddCommand adds sub command to the application.
func (a *App) AddCommand(cmd *Command) {
	a.commands = append(a.commands, cmd)
}

// AddCommands adds multiple sub commands to the application.
func (a *App) AddCommands(cmds ...*Command) {
	a.commands = append(a.commands, cmds...)
}
