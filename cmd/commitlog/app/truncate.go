package app

import (
	"context"
	"fmt"
	"io"

	"commitlog/cmd/commitlog/app/options"
	"commitlog/pkg/commitlog"
	"commitlog/pkg/util/app"

	"go.uber.org/multierr"
)

func truncateCommand(out io.Writer) *app.Command {
	opts := options.NewTruncateOptions()
	return app.NewCommand("truncate",
		"Drop the entries below an address and commit the new begin address",
		app.WithCommandOptions(opts),
		app.WithCommandRunFunc(func([]string) error {
			return runTruncate(context.Background(), opts, out)
		}),
	)
}

func runTruncate(ctx context.Context, opts *options.TruncateOptions, out io.Writer) (err error) {
	l, err := commitlog.Open(opts.LogOpts())
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, l.Close())
	}()

	if err := l.TruncateUntil(opts.Until); err != nil {
		return err
	}
	res, err := l.Commit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "log begins at %d as of commit %d\n", res.BeginAddress, res.CommitNum)
	return nil
}
