// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// rtlog-soak drives a full telemetry pipeline with simulated periodic
// producers and reports what it cost them.
//
// Each producer is a goroutine locked to its own OS thread (placed
// with the configured producer scheduling) that submits one envelope
// per period. At the end the tool prints submit latency as seen by
// the producers, queue-to-consumer latency, drop counts, and the
// process's resource usage. --die-after exercises the fatal path: the
// process writes a dump file, syncs the store, and exits 255.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/rtlog/lib/clock"
	"github.com/bureau-foundation/rtlog/lib/config"
	"github.com/bureau-foundation/rtlog/lib/envelope"
	"github.com/bureau-foundation/rtlog/lib/fatal"
	"github.com/bureau-foundation/rtlog/lib/logging"
	"github.com/bureau-foundation/rtlog/lib/pipeline"
	"github.com/bureau-foundation/rtlog/lib/process"
	"github.com/bureau-foundation/rtlog/lib/registry"
	"github.com/bureau-foundation/rtlog/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath string
	defaults   bool
	producers  int
	period     time.Duration
	duration   time.Duration
	textEvery  uint64
	dieAfter   time.Duration
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("rtlog-soak", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "pipeline config file (default: $"+config.EnvironmentVariable+")")
	flagSet.BoolVar(&opts.defaults, "defaults", false, "run with the built-in configuration instead of a file")
	flagSet.IntVarP(&opts.producers, "producers", "p", 4, "number of producer threads")
	flagSet.DurationVar(&opts.period, "period", time.Millisecond, "producer cycle period")
	flagSet.DurationVarP(&opts.duration, "duration", "d", 10*time.Second, "how long to run")
	flagSet.Uint64Var(&opts.textEvery, "text-every", 10, "send a text line instead of a cycle report every Nth cycle (0 disables)")
	flagSet.DurationVar(&opts.dieAfter, "die-after", 0, "trigger the fatal-termination path after this long (0 disables)")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("rtlog-soak")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return &process.UsageError{Err: err}
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if opts.producers < 1 || opts.period <= 0 || opts.duration <= 0 {
		return process.Usagef("--producers, --period, and --duration must be positive")
	}

	cfg, err := loadConfig(opts.configPath, opts.defaults)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	report, err := soak(ctx, cfg, opts, logger, clock.Real())
	if err != nil {
		return err
	}
	report.write(os.Stdout)
	return nil
}

// loadConfig reads path, the built-in defaults when asked for, or the
// file named by RTLOG_CONFIG, then validates.
func loadConfig(path string, defaults bool) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case path != "" && defaults:
		return nil, process.Usagef("--config and --defaults are mutually exclusive")
	case path != "":
		cfg, err = config.LoadFile(path)
	case defaults:
		cfg, err = config.Parse(nil)
	default:
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// soakReport is the outcome of one soak run.
type soakReport struct {
	duration  time.Duration
	cycles    uint64
	overruns  uint64
	submit    latency
	delivery  latency
	perWorker []workerReport
	stats     pipeline.Stats
	usage     unix.Rusage
	usageErr  error
}

type workerReport struct {
	name     string
	cycles   uint64
	overruns uint64
	submit   latency
}

// soak runs the pipeline and opts.producers workers until ctx ends.
func soak(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger, clk clock.Clock) (*soakReport, error) {
	pipelineConfig, err := pipeline.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Queue-to-consumer latency; touched only on the consumer goroutine
	// until Run returns.
	var delivery latency
	pipelineConfig.Sinks = append(pipelineConfig.Sinks, pipeline.SinkFunc(func(e *envelope.Envelope) {
		delivery.add(time.Duration(clk.Monotonic() - e.Timestamp))
	}))

	schemas := registry.New()
	if err := registry.RegisterCodec(schemas, &cycleCodec, "soak.cycle"); err != nil {
		return nil, err
	}
	if cfg.Schemas != "" {
		manifest, err := registry.LoadManifest(cfg.Schemas)
		if err != nil {
			return nil, err
		}
		if err := manifest.Apply(schemas); err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.Schemas, err)
		}
	}

	p, err := pipeline.Open(pipelineConfig, schemas, logger, clk)
	if err != nil {
		return nil, err
	}
	terminator := fatal.New(fatal.Config{
		Service:     cfg.Service,
		DumpDir:     cfg.Fatal.DumpDir,
		HookTimeout: cfg.Fatal.HookTimeout,
		OnTerminate: p.EmergencySync,
	})
	if address := p.LiveTailAddr(); address != nil {
		logger.Info("live tail listening", "network", address.Network(), "address", address.String())
	}

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- p.Run(consumerCtx) }()

	workers := make([]*worker, opts.producers)
	for i := range workers {
		name := fmt.Sprintf("soak-%d", i)
		handle, err := p.NewProducer(name, []byte(name))
		if err != nil {
			stopConsumer()
			<-consumerDone
			return nil, err
		}
		workers[i] = &worker{handle: handle, clock: clk, period: opts.period, textEvery: opts.textEvery}
	}

	if opts.dieAfter > 0 {
		deadline := time.AfterFunc(opts.dieAfter, func() {
			terminator.DieContext([]byte("soak"), "fatal requested after %v", opts.dieAfter)
		})
		defer deadline.Stop()
	}

	started := clk.Now()
	var group sync.WaitGroup
	for _, w := range workers {
		group.Add(1)
		go func() {
			defer group.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			if err := p.PlaceProducerThread(); err != nil {
				logger.Warn("producer scheduling not applied", "producer", w.handle.Name(), "error", err)
			}
			w.run(ctx)
		}()
	}
	group.Wait()
	elapsed := clk.Now().Sub(started)

	stopConsumer()
	runErr := <-consumerDone

	report := &soakReport{duration: elapsed, delivery: delivery, stats: p.Stats()}
	for _, w := range workers {
		report.cycles += w.cycles
		report.overruns += w.overruns
		report.submit.merge(w.submit)
		report.perWorker = append(report.perWorker, workerReport{
			name: w.handle.Name(), cycles: w.cycles, overruns: w.overruns, submit: w.submit,
		})
	}
	report.usageErr = unix.Getrusage(unix.RUSAGE_SELF, &report.usage)
	return report, runErr
}

func (r *soakReport) write(w io.Writer) {
	var submitted, dropped, oversize uint64
	for _, producerStats := range r.stats.Producers {
		submitted += producerStats.Submitted
		dropped += producerStats.Dropped
		oversize += producerStats.Oversize
	}

	fmt.Fprintf(w, "duration      %v\n", r.duration.Round(time.Millisecond))
	fmt.Fprintf(w, "cycles        %d (%d overruns)\n", r.cycles, r.overruns)
	fmt.Fprintf(w, "submitted     %d accepted, %d dropped, %d oversize\n", submitted-dropped, dropped, oversize)
	fmt.Fprintf(w, "consumed      %d (store errors %d)\n", r.stats.Consumed, r.stats.StoreErrors)
	fmt.Fprintf(w, "segments      %d (%d archived)\n", r.stats.Store.Segments, r.stats.Store.Archived)
	fmt.Fprintf(w, "submit        %s\n", r.submit.String())
	fmt.Fprintf(w, "delivery      %s\n", r.delivery.String())
	for _, entry := range r.perWorker {
		fmt.Fprintf(w, "  %-10s  cycles %d  overruns %d  submit %s\n", entry.name, entry.cycles, entry.overruns, entry.submit.String())
	}
	if r.usageErr != nil {
		fmt.Fprintf(w, "rusage        unavailable: %v\n", r.usageErr)
		return
	}
	fmt.Fprintf(w, "cpu           user %v  system %v\n",
		time.Duration(r.usage.Utime.Nano()).Round(time.Millisecond),
		time.Duration(r.usage.Stime.Nano()).Round(time.Millisecond))
	fmt.Fprintf(w, "max rss       %d KiB\n", r.usage.Maxrss)
	fmt.Fprintf(w, "ctx switches  %d voluntary, %d involuntary\n", r.usage.Nvcsw, r.usage.Nivcsw)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `rtlog-soak: load a telemetry pipeline with periodic producers.

Starts the pipeline described by the config (store, live tail, thread
placement), runs N producer threads that each submit once per period,
and reports submit latency, delivery latency, drops, and resource use.
Attach rtlog-tail to the live-tail socket while it runs to watch.

Usage:
  rtlog-soak [flags]

Examples:
  # Four 1 kHz producers for ten seconds with built-in defaults
  rtlog-soak --defaults

  # Sixteen 10 kHz producers with a config file
  rtlog-soak --config soak.yaml --producers 16 --period 100us --duration 1m

  # Exercise the fatal path after two seconds
  rtlog-soak --defaults --die-after 2s

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
