// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// rtlog-tail attaches to a running pipeline's live-tail socket and
// prints every envelope it receives, one line each.
//
// An observer only sees records consumed after it connects. When it
// falls behind, the pipeline drops frames for it rather than slowing
// the consumer; gaps show up as jumps in the per-producer sequence
// numbers.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/rtlog/lib/envelope"
	"github.com/bureau-foundation/rtlog/lib/livetail"
	"github.com/bureau-foundation/rtlog/lib/present"
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
	network     string
	address     string
	minSeverity string
	color       string
	schemas     string
	count       int
	truncate    bool
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("rtlog-tail", pflag.ContinueOnError)
	flagSet.StringVar(&opts.address, "socket", "", "live-tail address (a unix socket path, or host:port with --network tcp)")
	flagSet.StringVar(&opts.network, "network", "unix", "live-tail network: unix or tcp")
	flagSet.StringVar(&opts.minSeverity, "min-severity", "trace", "hide envelopes below this severity")
	flagSet.StringVar(&opts.color, "color", "auto", "severity colors: auto, always, or never")
	flagSet.StringVar(&opts.schemas, "schemas", "", "JSONC schema manifest used to render structured payloads")
	flagSet.IntVarP(&opts.count, "count", "n", 0, "exit after printing this many envelopes (0 means run until interrupted)")
	flagSet.BoolVar(&opts.truncate, "truncate", true, "cut lines at the terminal width")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("rtlog-tail")
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
	if args := flagSet.Args(); len(args) > 0 {
		return process.Usagef("unexpected argument: %s", args[0])
	}
	if opts.address == "" {
		return process.Usagef("--socket is required")
	}

	minSeverity, err := envelope.ParseSeverity(opts.minSeverity)
	if err != nil {
		return &process.UsageError{Err: err}
	}
	colorMode, err := present.ParseColorMode(opts.color)
	if err != nil {
		return &process.UsageError{Err: err}
	}
	schemas, err := registry.FromManifest(opts.schemas)
	if err != nil {
		return err
	}

	width := 0
	if opts.truncate && term.IsTerminal(int(os.Stdout.Fd())) {
		if columns, _, sizeErr := term.GetSize(int(os.Stdout.Fd())); sizeErr == nil {
			width = columns
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := livetail.Dial(ctx, opts.network, opts.address)
	if err != nil {
		return err
	}
	// Closing the connection is what unblocks Next on interrupt.
	stopClose := context.AfterFunc(ctx, func() { client.Close() })
	defer stopClose()
	defer client.Close()

	printer := present.NewPrinter(present.Options{
		Output:   os.Stdout,
		Registry: schemas,
		Color:    colorMode,
		Width:    width,
	})
	return follow(ctx, client, printer, minSeverity, opts.count)
}

// follow prints frames until the stream ends, ctx is cancelled, or
// limit envelopes have been printed.
func follow(ctx context.Context, client *livetail.Client, printer *present.Printer, minSeverity envelope.Severity, limit int) error {
	var e envelope.Envelope
	printed := 0
	for limit == 0 || printed < limit {
		if err := client.Next(&e); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if e.Severity < minSeverity {
			continue
		}
		if err := printer.Print(&e); err != nil {
			return err
		}
		printed++
	}
	return nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `rtlog-tail: follow a running pipeline's live telemetry.

Connects to the live-tail endpoint and prints each envelope consumed
from then on. Earlier records are in the segment store; use rtlog-dump
to read them.

Usage:
  rtlog-tail --socket PATH [flags]

Examples:
  # Follow the default development socket
  rtlog-tail --socket ~/.cache/rtlog/tail.sock

  # Warnings and errors only, decoded with a schema manifest
  rtlog-tail --socket /run/arm/tail.sock --min-severity warn --schemas arm-schemas.jsonc

  # Over TCP, first 100 envelopes
  rtlog-tail --network tcp --socket 10.0.0.7:7070 -n 100

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
