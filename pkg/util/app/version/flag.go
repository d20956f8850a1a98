package version

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

const (
	flagName      = "version"
	flagShortHand = "V"
)

type value int

const (
	boolFalse value = 0
	boolTrue  value = 1
	allInfo   value = 3

	strAllVersionInfo string = "all"
)

var v = boolFalse

func (v *value) Set(s string) error {
	if s == strAllVersionInfo {
		*v = allInfo
		return nil
	}
	boolVal, err := strconv.ParseBool(s)
	if boolVal {
		*v = boolTrue
	} else {
		*v = boolFalse
	}
	return err
}

func (v *value) String() string {
	if *v == allInfo {
		return strAllVersionInfo
	}
	return fmt.Sprintf("%v", bool(*v == boolTrue))
}

// The type of the flag as required by the pflag.value interface
func (v *value) Type() string {
	return "version"
}

// AddFlags registers -V/--version on fs. "--version" alone means
// "--version=true", "--version=all" prints the full build table.
func AddFlags(fs *pflag.FlagSet) {
	fs.VarP(&v, flagName, flagShortHand, "Print version information and quit, =all for build details.")
	fs.Lookup(flagName).NoOptDefVal = "true"
}

// Print writes the requested version output to w and reports whether the
// flag was given.
func Print(w io.Writer, appName string) bool {
	switch v {
	case allInfo:
		fmt.Fprintf(w, "%s\n", Get())
	case boolTrue:
		fmt.Fprintf(w, "%s %s\n", appName, Get().GitVersion)
	default:
		return false
	}
	return true
}

// PrintAndExitIfRequested will check if the -version flag was passed and, if so,
// print the version and exit.
func PrintAndExitIfRequested(appName string) {
	if Print(os.Stdout, appName) {
		os.Exit(0)
	}
}
