package app

import (
	"fmt"
	"io"

	"commitlog/cmd/commitlog/app/options"
	"commitlog/pkg/commitlog"
	"commitlog/pkg/util/app"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"go.uber.org/multierr"
)

func statusCommand(out io.Writer) *app.Command {
	opts := options.NewLogOptions()
	return app.NewCommand("status",
		"Recover the log and print the state it recovered to",
		app.WithCommandOptions(opts),
		app.WithCommandRunFunc(func([]string) error {
			return runStatus(opts, out)
		}),
	)
}

func runStatus(opts *options.LogOptions, out io.Writer) (err error) {
	lopts := opts.LogOpts()
	lopts.CommitOnClose = false
	lopts.CommitInterval = 0
	l, err := commitlog.Open(lopts)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, l.Close())
	}()

	rec := l.Recovery()
	table := uitable.New()
	table.RightAlign(0)
	table.Separator = " "
	if rec.Fresh {
		table.AddRow("state:", color.YellowString("fresh"))
	} else {
		table.AddRow("state:", color.GreenString("recovered"))
		table.AddRow("commit:", rec.Record.CommitNum)
		table.AddRow("version:", rec.Record.Version)
	}
	table.AddRow("begin:", l.BeginAddress())
	table.AddRow("until:", l.CommittedUntilAddress())
	table.AddRow("next commit:", rec.NextCommitNum)
	if len(rec.Skipped) > 0 {
		table.AddRow("skipped:", color.RedString("%v", rec.Skipped))
	}
	if cookie := l.RecoveredCookie(); cookie != nil {
		table.AddRow("cookie:", string(cookie))
	}
	fmt.Fprintln(out, table)

	if rec.Record == nil || len(rec.Record.Iterators) == 0 {
		return nil
	}
	iters := uitable.New()
	iters.AddRow("ITERATOR", "ADDRESS", "BEHIND")
	for _, name := range rec.Record.IteratorNames() {
		addr := rec.Record.Iterators[name]
		iters.AddRow(name, addr, rec.Record.UntilAddress-addr)
	}
	fmt.Fprintln(out, iters)
	return nil
}
