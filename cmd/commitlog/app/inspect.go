package app

import (
	"fmt"
	"io"

	"commitlog/cmd/commitlog/app/options"
	"commitlog/pkg/commitlog/recovery"
	"commitlog/pkg/util/app"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"go.uber.org/multierr"
)

func inspectCommand(out io.Writer) *app.Command {
	opts := options.NewLogOptions()
	return app.NewCommand("inspect",
		"List the commits in the metadata store, newest first",
		app.WithCommandOptions(opts),
		app.WithCommandRunFunc(func([]string) error {
			return runInspect(opts, out)
		}),
	)
}

// runInspect reads the store without opening the log, so the output shows
// damaged commits that recovery would skip.
func runInspect(opts *options.LogOptions, out io.Writer) (err error) {
	store, err := opts.OpenStore()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, store.Close())
	}()

	nums, err := store.List()
	if err != nil {
		return err
	}
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("COMMIT", "STATUS", "SIZE", "BEGIN", "UNTIL", "ITERATORS", "COOKIE")
	for _, num := range nums {
		data, err := store.Read(num)
		if err != nil {
			table.AddRow(num, color.RedString("unreadable"), "-", "-", "-", "-", err.Error())
			continue
		}
		rec, err := recovery.Decode(data)
		if err != nil {
			table.AddRow(num, color.RedString("corrupt"), humanize.IBytes(uint64(len(data))), "-", "-", "-", err.Error())
			continue
		}
		table.AddRow(num, color.GreenString("ok"), humanize.IBytes(uint64(len(data))),
			rec.BeginAddress, rec.UntilAddress, len(rec.Iterators), fmt.Sprintf("%q", rec.Cookie))
	}
	fmt.Fprintln(out, table)
	return nil
}
