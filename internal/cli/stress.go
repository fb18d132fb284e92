package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/deferq/internal/clock"
	"github.com/roach88/deferq/internal/deferred"
	"github.com/roach88/deferq/internal/metrics"
)

// StressOptions holds flags for the stress command.
type StressOptions struct {
	*RootOptions
	Producers    int
	Entries      int
	MaxDelay     time.Duration
	TickInterval time.Duration
	Timeout      time.Duration
	Seed         uint64
}

// StressReport summarizes a stress run.
type StressReport struct {
	Pass        bool   `json:"pass"`
	Producers   int    `json:"producers"`
	Enqueued    int    `json:"enqueued"`
	Fired       int    `json:"fired"`
	Missing     int    `json:"missing"`
	Duplicates  int    `json:"duplicates"`
	Early       int64  `json:"early"`
	OutOfOrder  int    `json:"out_of_order"`
	Ticks       int64  `json:"ticks"`
	Rearms      int64  `json:"rearms"`
	Dispatched  int64  `json:"dispatched"`
	Panics      int64  `json:"panics"`
	MaxLateness string `json:"max_lateness"`
	Elapsed     string `json:"elapsed"`
}

// NewStressCommand creates the stress command.
func NewStressCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StressOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Stress the scheduler with concurrent producers on the real clock",
		Long: `Run concurrent producers that enqueue callbacks with random deadlines on
a scheduler driven by the monotonic clock and real timers.

The run fails if any callback fires twice, never fires before the timeout,
observes the clock before its own deadline, or runs out of (deadline,
enqueue) order.

Examples:
  deferq stress
  deferq stress --producers 16 --entries 5000 --max-delay 250ms
  deferq stress --tick-interval 1ms --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Producers, "producers", 4, "number of concurrent producers")
	cmd.Flags().IntVar(&opts.Entries, "entries", 1000, "entries enqueued per producer")
	cmd.Flags().DurationVar(&opts.MaxDelay, "max-delay", 100*time.Millisecond, "upper bound for each entry's random delay")
	cmd.Flags().DurationVar(&opts.TickInterval, "tick-interval", 0, "also flush manually at this interval (0 disables)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "give up waiting for callbacks after this long")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "seed for the random delays")

	return cmd
}

func (opts *StressOptions) validate() error {
	var errs []error
	if opts.Producers < 1 {
		errs = append(errs, errors.New("--producers must be at least 1"))
	}
	if opts.Entries < 1 {
		errs = append(errs, errors.New("--entries must be at least 1"))
	}
	if opts.MaxDelay < 0 {
		errs = append(errs, errors.New("--max-delay must not be negative"))
	}
	if opts.TickInterval < 0 {
		errs = append(errs, errors.New("--tick-interval must not be negative"))
	}
	if opts.Timeout <= 0 {
		errs = append(errs, errors.New("--timeout must be positive"))
	}
	return errors.Join(errs...)
}

func runStress(opts *StressOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger()

	if err := opts.validate(); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "invalid stress options", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	reg := prometheus.NewRegistry()
	m := metrics.New("deferq")
	reg.MustRegister(m)

	clk := clock.Monotonic{}
	order := newOrderCheck()
	s := deferred.New(
		deferred.WithClock(clk),
		deferred.WithLogger(logger),
		deferred.WithMetrics(m),
		deferred.WithRecorder(order),
	)
	defer s.Close()

	total := opts.Producers * opts.Entries
	counts := make([]atomic.Int32, total)
	var (
		fired   atomic.Int64
		early   atomic.Int64
		maxLate atomic.Int64
		ticks   atomic.Int64
	)
	allFired := make(chan struct{})

	callback := func(idx int, deadline clock.AbsoluteTime) func() {
		return func() {
			order.fired(deadline)
			now := clk.Now()
			if now.Before(deadline) {
				early.Add(1)
			}
			late := int64(now.Sub(deadline))
			for {
				cur := maxLate.Load()
				if late <= cur || maxLate.CompareAndSwap(cur, late) {
					break
				}
			}
			if counts[idx].Add(1) == 1 && fired.Add(1) == int64(total) {
				close(allFired)
			}
		}
	}

	start := time.Now()
	formatter.VerboseLog("Starting %d producers x %d entries (max delay %s)", opts.Producers, opts.Entries, opts.MaxDelay)

	stopTicks := make(chan struct{})
	var tickWG sync.WaitGroup
	if opts.TickInterval > 0 {
		tickWG.Add(1)
		go func() {
			defer tickWG.Done()
			t := time.NewTicker(opts.TickInterval)
			defer t.Stop()
			for {
				select {
				case <-stopTicks:
					return
				case <-t.C:
					if s.Tick(clk.Now()) {
						ticks.Add(1)
					}
				}
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for p := range opts.Producers {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(opts.Seed, uint64(p)))
			for i := range opts.Entries {
				if err := gctx.Err(); err != nil {
					return err
				}
				delay := time.Duration(rng.Int64N(int64(opts.MaxDelay) + 1))
				deadline := clk.Now().Add(delay)
				if !s.Enqueue(callback(p*opts.Entries+i, deadline), deadline) {
					return fmt.Errorf("producer %d: enqueue rejected", p)
				}
			}
			return nil
		})
	}
	produceErr := g.Wait()

	if produceErr == nil {
		select {
		case <-allFired:
		case <-ctx.Done():
			logger.Warn("stress timed out waiting for callbacks", "fired", fired.Load(), "total", total)
		}
	}

	close(stopTicks)
	tickWG.Wait()

	// One more round through the executor surfaces any duplicate firing that
	// was already queued.
	syncCtx, syncCancel := context.WithTimeout(context.Background(), time.Second)
	_ = s.Sync(syncCtx)
	syncCancel()
	s.Close()

	report := StressReport{
		Producers:   opts.Producers,
		Enqueued:    total,
		Early:       early.Load(),
		OutOfOrder:  order.violations,
		Ticks:       ticks.Load(),
		MaxLateness: time.Duration(maxLate.Load()).String(),
		Elapsed:     time.Since(start).Round(time.Millisecond).String(),
	}
	for i := range counts {
		switch n := counts[i].Load(); {
		case n == 0:
			report.Missing++
		case n > 1:
			report.Duplicates++
			report.Fired++
		default:
			report.Fired++
		}
	}

	counters, err := gatherCounters(reg)
	if err != nil {
		logger.Warn("failed to gather metrics", "error", err)
	}
	report.Rearms = int64(counters["deferq_timer_rearms_total"])
	report.Dispatched = int64(counters["deferq_entries_dispatched_total"])
	report.Panics = int64(counters["deferq_callback_panics_total"])

	report.Pass = produceErr == nil &&
		report.Missing == 0 &&
		report.Duplicates == 0 &&
		report.Early == 0 &&
		report.OutOfOrder == 0

	resp := CLIResponse{Status: "ok", Data: report}
	if !report.Pass {
		resp.Status = "error"
		resp.Error = &CLIError{Code: ErrCodeStress, Message: "stress verification failed"}
		if produceErr != nil {
			resp.Error.Details = produceErr.Error()
		}
	}
	if err := formatter.Emit(resp, func(w io.Writer) {
		writeStressText(w, report)
	}); err != nil {
		return err
	}

	if !report.Pass {
		return &ExitError{
			Code:    ExitFailure,
			ErrCode: ErrCodeStress,
			Message: fmt.Sprintf("stress verification failed: %d missing, %d duplicate, %d early, %d out of order",
				report.Missing, report.Duplicates, report.Early, report.OutOfOrder),
			Err:      produceErr,
			Reported: true,
		}
	}
	return nil
}

// gatherCounters returns the value of every counter in reg by metric name.
func gatherCounters(reg *prometheus.Registry) (map[string]float64, error) {
	families, err := reg.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather: %w", err)
	}
	out := make(map[string]float64, len(families))
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				out[mf.GetName()] += c.GetValue()
			}
		}
	}
	return out, nil
}

func writeStressText(w io.Writer, r StressReport) {
	mark := "✓"
	if !r.Pass {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s stress: %d/%d fired in %s\n", mark, r.Fired, r.Enqueued, r.Elapsed)
	fmt.Fprintf(w, "  producers:    %d\n", r.Producers)
	fmt.Fprintf(w, "  missing:      %d\n", r.Missing)
	fmt.Fprintf(w, "  duplicates:   %d\n", r.Duplicates)
	fmt.Fprintf(w, "  early:        %d\n", r.Early)
	fmt.Fprintf(w, "  out of order: %d\n", r.OutOfOrder)
	fmt.Fprintf(w, "  max lateness: %s\n", r.MaxLateness)
	fmt.Fprintf(w, "  dispatched:   %d\n", r.Dispatched)
	fmt.Fprintf(w, "  timer rearms: %d\n", r.Rearms)
	if r.Ticks > 0 {
		fmt.Fprintf(w, "  manual ticks: %d\n", r.Ticks)
	}
	if r.Panics > 0 {
		fmt.Fprintf(w, "  panics:       %d\n", r.Panics)
	}
}
