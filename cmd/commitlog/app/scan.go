package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"commitlog/cmd/commitlog/app/options"
	"commitlog/pkg/commitlog"
	"commitlog/pkg/util/app"

	"go.uber.org/multierr"
)

func scanCommand(out io.Writer) *app.Command {
	opts := options.NewScanOptions()
	return app.NewCommand("scan",
		"Print committed entries from a named iterator's position",
		app.WithCommandOptions(opts),
		app.WithCommandExample(`  commitlog scan --dir /var/lib/mylog --name indexer --limit 100 --ack`),
		app.WithCommandRunFunc(func([]string) error {
			return runScan(context.Background(), opts, out)
		}),
	)
}

func runScan(ctx context.Context, opts *options.ScanOptions, out io.Writer) (err error) {
	lopts := opts.LogOpts()
	// a scan without --ack leaves the stored positions alone
	lopts.CommitOnClose = opts.Ack
	l, err := commitlog.Open(lopts)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, l.Close())
	}()

	it, err := l.Scan(opts.Name, commitlog.ScanOptions{From: opts.From, Recover: opts.Recover})
	if err != nil {
		return err
	}
	for n := 0; opts.Limit == 0 || n < opts.Limit; n++ {
		entry, addr, _, err := it.Next()
		if errors.Is(err, commitlog.ErrEndOfLog) {
			break
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d\t%s\n", addr, entry)
	}

	if !opts.Ack {
		return nil
	}
	if err := it.CompleteUntil(it.NextAddress()); err != nil {
		return err
	}
	res, err := l.Commit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "iterator %q acknowledged until %d in commit %d\n", opts.Name, it.NextAddress(), res.CommitNum)
	return nil
}
