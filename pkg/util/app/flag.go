package app

import (
	goflag "flag"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

var initFlagOnce sync.Once

// initFlag registers the klog flags on the go flag set once.
func initFlag() {
	initFlagOnce.Do(func() {
		klog.InitFlags(goflag.CommandLine)
	})
}

// wordSepNormalizeFunc lets "_" and "-" be used interchangeably in flag
// names.
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	if strings.Contains(name, "_") {
		return pflag.NormalizedName(strings.Replace(name, "_", "-", -1))
	}
	return pflag.NormalizedName(name)
}

// FormatBaseName is formatted as an executable file name under different
// operating systems according to the given name.
func FormatBaseName(basename string) string {
	basename = filepath.Base(basename)
	if runtime.GOOS == "windows" {
		basename = strings.ToLower(basename)
		basename = strings.TrimSuffix(basename, ".exe")
	}
	return basename
}
