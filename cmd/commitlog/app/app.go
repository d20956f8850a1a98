package app

import (
	"io"
	"os"

	"commitlog/pkg/util/app"
)

const commandDesc = `commitlog appends entries to a durable log, reads them back with named
iterators whose positions survive restarts, and inspects the commits that
make both durable.`

func New(basename string) *app.App {
	return newApp(basename, os.Stdin, os.Stdout)
}

func newApp(basename string, in io.Reader, out io.Writer) *app.App {
	application := app.NewApp(
		basename,
		app.WithDescription(commandDesc),
		app.WithSilence(),
	)
	application.AddCommands(
		appendCommand(in, out),
		scanCommand(out),
		truncateCommand(out),
		statusCommand(out),
		inspectCommand(out),
		benchCommand(out),
	)
	return application
}
