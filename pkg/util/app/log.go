package app

import (
	goflag "flag"

	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"
	"k8s.io/klog/v2"
)

// logOptions routes klog into a rotated file when --log-rotate-file is set.
type logOptions struct {
	RotateFile       string
	RotateMaxSizeMB  int
	RotateMaxBackups int
	RotateMaxAgeDays int
	RotateCompress   bool

	writer *lumberjack.Logger
}

func newLogOptions() *logOptions {
	return &logOptions{
		RotateMaxSizeMB:  100,
		RotateMaxBackups: 5,
		RotateMaxAgeDays: 28,
	}
}

func (o *logOptions) AddFlags(fs *pflag.FlagSet) {
	fs.AddGoFlagSet(goflag.CommandLine)
	fs.StringVar(&o.RotateFile, "log-rotate-file", o.RotateFile,
		"Write logs to this file, rotating it by size, instead of stderr")
	fs.IntVar(&o.RotateMaxSizeMB, "log-rotate-max-size", o.RotateMaxSizeMB,
		"Size in megabytes at which the log file is rotated")
	fs.IntVar(&o.RotateMaxBackups, "log-rotate-max-backups", o.RotateMaxBackups,
		"Number of rotated log files to keep")
	fs.IntVar(&o.RotateMaxAgeDays, "log-rotate-max-age", o.RotateMaxAgeDays,
		"Days to keep rotated log files")
	fs.BoolVar(&o.RotateCompress, "log-rotate-compress", o.RotateCompress,
		"Gzip rotated log files")
}

func (o *logOptions) apply() error {
	if o.RotateFile == "" || o.writer != nil {
		return nil
	}
	o.writer = &lumberjack.Logger{
		Filename:   o.RotateFile,
		MaxSize:    o.RotateMaxSizeMB,
		MaxBackups: o.RotateMaxBackups,
		MaxAge:     o.RotateMaxAgeDays,
		Compress:   o.RotateCompress,
	}
	if err := goflag.CommandLine.Set("logtostderr", "false"); err != nil {
		return err
	}
	klog.SetOutput(o.writer)
	return nil
}
