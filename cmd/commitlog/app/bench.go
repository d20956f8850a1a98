package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"commitlog/cmd/commitlog/app/options"
	"commitlog/pkg/commitlog"
	"commitlog/pkg/util/app"
	"commitlog/pkg/util/random"
	"commitlog/pkg/util/signal"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

func benchCommand(out io.Writer) *app.Command {
	opts := options.NewBenchOptions()
	return app.NewCommand("bench",
		"Append from concurrent producers while committers race, then report throughput",
		app.WithCommandOptions(opts),
		app.WithCommandExample(`  commitlog bench --producers 8 --committers 4 --flush-latency 2ms --entry-size 1KiB`),
		app.WithCommandRunFunc(func([]string) error {
			return runBench(signal.SetupSignalContext(), opts, out)
		}),
	)
}

type benchStats struct {
	appended    atomic.Int64
	commits     atomic.Int64
	piggybacked atomic.Int64
	payload     atomic.Int64
}

func runBench(ctx context.Context, opts *options.BenchOptions, out io.Writer) (err error) {
	l, err := commitlog.Open(opts.LogOpts())
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, l.Close())
	}()

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), opts.Producers)
	}

	var stats benchStats
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	var producers sync.WaitGroup
	producersDone := make(chan struct{})
	for i := 0; i < opts.Producers; i++ {
		producers.Add(1)
		rnd := random.New(opts.Seed + uint32(i))
		buf := make([]byte, opts.EntryBytes())
		rnd.Fill(buf)
		g.Go(func() error {
			defer producers.Done()
			for n := 0; n < opts.Entries; n++ {
				entry := buf
				if opts.Skewed {
					entry = buf[:rnd.SkewedSize(len(buf))]
				}
				// fails only once the wait would outlive ctx
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				if _, err := l.Append(gctx, entry); err != nil {
					return stopped(gctx, err)
				}
				stats.appended.Inc()
				stats.payload.Add(int64(len(entry)))
			}
			return nil
		})
	}
	for i := 0; i < opts.Committers; i++ {
		g.Go(func() error {
			tick := time.NewTicker(time.Millisecond)
			defer tick.Stop()
			for {
				select {
				case <-producersDone:
					return nil
				case <-gctx.Done():
					return nil
				case <-tick.C:
				}
				res, err := l.Commit(gctx)
				if err != nil {
					return stopped(gctx, err)
				}
				stats.commits.Inc()
				if res.Piggybacked {
					stats.piggybacked.Inc()
				}
			}
		})
	}
	go func() {
		producers.Wait()
		close(producersDone)
	}()
	if err := g.Wait(); err != nil {
		return err
	}

	final, err := l.Commit(context.Background())
	if err != nil {
		return err
	}
	elapsed := time.Since(start)
	klog.V(2).Infof("bench: final commit %d until %d", final.CommitNum, final.UntilAddress)

	n := stats.appended.Load()
	payload := uint64(stats.payload.Load())
	secs := elapsed.Seconds()
	table := uitable.New()
	table.RightAlign(0)
	table.Separator = " "
	table.AddRow("entries:", humanize.Comma(n))
	table.AddRow("payload:", humanize.IBytes(payload))
	table.AddRow("elapsed:", elapsed.Round(time.Millisecond))
	table.AddRow("entries/s:", humanize.Comma(int64(float64(n)/secs)))
	table.AddRow("throughput:", humanize.IBytes(uint64(float64(payload)/secs))+"/s")
	table.AddRow("commit calls:", humanize.Comma(stats.commits.Load()))
	table.AddRow("piggybacked:", humanize.Comma(stats.piggybacked.Load()))
	table.AddRow("last commit:", final.CommitNum)
	table.AddRow("committed until:", humanize.Comma(final.UntilAddress))
	fmt.Fprintln(out, table)
	return nil
}

// stopped drops the errors caused by cancellation of ctx.
func stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
