package app

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gotest.tools/v3/assert"
)

type testOptions struct {
	Name      string
	Retries   int
	completed bool
}

func (o *testOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "name", o.Name, "name")
	fs.IntVar(&o.Retries, "retries", o.Retries, "retries")
}

func (o *testOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *testOptions) Validate() []error {
	if o.Name == "" {
		return []error{errors.New("--name is required")}
	}
	return nil
}

func newTestApp(opts *testOptions, run RunCommandFunc) *App {
	a := NewApp("tool", WithSilence())
	a.AddCommand(NewCommand("do", "do things",
		WithCommandOptions(opts),
		WithCommandRunFunc(run)))
	return a
}

func TestCommandRunsWithFlags(t *testing.T) {
	opts := &testOptions{Retries: 1}
	var got []string
	cmd := newTestApp(opts, func(args []string) error {
		got = args
		return nil
	}).Command()
	cmd.SetArgs([]string{"do", "--name", "x", "--retries", "3", "a", "b"})
	assert.NilError(t, cmd.Execute())
	assert.DeepEqual(t, got, []string{"a", "b"})
	assert.Equal(t, opts.Name, "x")
	assert.Equal(t, opts.Retries, 3)
	assert.Assert(t, opts.completed)
}

func TestCommandValidates(t *testing.T) {
	ran := false
	cmd := newTestApp(&testOptions{}, func([]string) error {
		ran = true
		return nil
	}).Command()
	cmd.SetArgs([]string{"do"})
	err := cmd.Execute()
	assert.ErrorContains(t, err, "--name is required")
	assert.Assert(t, !ran)
}

func TestCommandReturnsRunError(t *testing.T) {
	cmd := newTestApp(&testOptions{}, func([]string) error {
		return errors.New("boom")
	}).Command()
	cmd.SetArgs([]string{"do", "--name", "x"})
	assert.ErrorContains(t, cmd.Execute(), "boom")
}

func TestConfigFillsUnsetFlags(t *testing.T) {
	defer viper.Reset()
	viper.Set("retries", 7)
	viper.Set("name", "from-config")

	opts := &testOptions{Retries: 1}
	cmd := newTestApp(opts, func([]string) error { return nil }).Command()
	cmd.SetArgs([]string{"do", "--name", "from-flag"})
	assert.NilError(t, cmd.Execute())
	assert.Equal(t, opts.Retries, 7)
	assert.Equal(t, opts.Name, "from-flag")
}

func TestConfigBadValue(t *testing.T) {
	defer viper.Reset()
	viper.Set("retries", "many")

	cmd := newTestApp(&testOptions{}, func([]string) error { return nil }).Command()
	cmd.SetArgs([]string{"do", "--name", "x"})
	assert.ErrorContains(t, cmd.Execute(), `config item "retries"`)
}

func TestFlagNamesNormalized(t *testing.T) {
	opts := &testOptions{}
	a := NewApp("tool", WithSilence())
	a.AddCommand(NewCommand("do", "do things",
		WithCommandOptions(opts),
		WithCommandRunFunc(func([]string) error { return nil })))
	cmd := a.Command()
	cmd.SetArgs([]string{"do", "--name", "x", "--log_rotate_max_backups", "2"})
	assert.NilError(t, cmd.Execute())
	assert.Equal(t, a.logs.RotateMaxBackups, 2)
}

func TestHelpListsCommands(t *testing.T) {
	cmd := newTestApp(&testOptions{}, func([]string) error { return nil }).Command()
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"help"})
	assert.NilError(t, cmd.Execute())
	assert.Assert(t, strings.Contains(out.String(), "do things"))
}

func TestFormatBaseName(t *testing.T) {
	assert.Equal(t, FormatBaseName("/usr/local/bin/commitlog"), "commitlog")
}
