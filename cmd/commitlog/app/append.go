package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"commitlog/cmd/commitlog/app/options"
	"commitlog/pkg/commitlog"
	"commitlog/pkg/util/app"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
)

// maxLineSize bounds a single line read from the input.
const maxLineSize = 16 << 20

func appendCommand(in io.Reader, out io.Writer) *app.Command {
	opts := options.NewAppendOptions()
	return app.NewCommand("append [FILE...]",
		"Append every line of the files, or of stdin, as one entry and commit",
		app.WithCommandOptions(opts),
		app.WithCommandExample(`  printf 'a\nb\n' | commitlog append --dir /var/lib/mylog --cookie batch-7`),
		app.WithCommandRunFunc(func(args []string) error {
			return runAppend(context.Background(), opts, args, in, out)
		}),
	)
}

func runAppend(ctx context.Context, opts *options.AppendOptions, files []string, in io.Reader, out io.Writer) (err error) {
	l, err := commitlog.Open(opts.LogOpts())
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, l.Close())
	}()

	first := int64(-1)
	var count, size uint64
	appendLines := func(r io.Reader) error {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
		for sc.Scan() {
			addr, err := l.Append(ctx, sc.Bytes())
			if err != nil {
				return err
			}
			if first < 0 {
				first = addr
			}
			count++
			size += uint64(len(sc.Bytes()))
		}
		return sc.Err()
	}

	if len(files) == 0 {
		if err := appendLines(in); err != nil {
			return err
		}
	}
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		err = appendLines(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	var res commitlog.CommitResult
	if opts.Cookie != "" {
		res, err = l.CommitWithCookie(ctx, []byte(opts.Cookie))
	} else {
		res, err = l.Commit(ctx)
	}
	if err != nil {
		return err
	}
	if first < 0 {
		first = l.TailAddress()
	}
	fmt.Fprintf(out, "appended %s entries (%s) at [%d, %d), commit %d until %d\n",
		humanize.Comma(int64(count)), humanize.IBytes(size), first, l.TailAddress(),
		res.CommitNum, res.UntilAddress)
	return nil
}
