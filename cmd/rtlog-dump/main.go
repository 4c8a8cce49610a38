// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// rtlog-dump reads a segment store directory after the fact.
//
// By default it prints every record in storage order, which is the
// order the consumer drained the queue. --merge re-sorts by timestamp
// for presentation (per-producer order is preserved; storage is never
// rewritten). --verify checks each sealed segment's BLAKE3 checksum
// instead of printing records.
//
// Archived segments (.lz4, .zst) are read transparently.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/rtlog/lib/codec"
	"github.com/bureau-foundation/rtlog/lib/envelope"
	"github.com/bureau-foundation/rtlog/lib/present"
	"github.com/bureau-foundation/rtlog/lib/process"
	"github.com/bureau-foundation/rtlog/lib/registry"
	"github.com/bureau-foundation/rtlog/lib/segment"
	"github.com/bureau-foundation/rtlog/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

// errCorrupt is returned by run when --verify finds damaged segments,
// after the per-segment report is printed.
var errCorrupt = errors.New("store contains corrupt segments")

type options struct {
	dir         string
	merge       bool
	verify      bool
	format      string
	schemas     string
	minSeverity string
	color       string
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("rtlog-dump", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.dir, "dir", "d", "", "segment store directory")
	flagSet.BoolVar(&opts.merge, "merge", false, "order output by timestamp instead of storage order")
	flagSet.BoolVar(&opts.verify, "verify", false, "check segment checksums instead of printing records")
	flagSet.StringVar(&opts.format, "format", "text", "output format: text, json (one object per line), or cbor (a CBOR sequence)")
	flagSet.StringVar(&opts.schemas, "schemas", "", "JSONC schema manifest used to render structured payloads")
	flagSet.StringVar(&opts.minSeverity, "min-severity", "trace", "skip records below this severity")
	flagSet.StringVar(&opts.color, "color", "auto", "severity colors for text output: auto, always, or never")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("rtlog-dump")
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
		if opts.dir != "" || len(args) > 1 {
			return process.Usagef("unexpected argument: %s", args[len(args)-1])
		}
		opts.dir = args[0]
	}
	if opts.dir == "" {
		return process.Usagef("a store directory is required (--dir or first argument)")
	}

	if opts.verify {
		return verify(os.Stdout, opts.dir)
	}
	return dump(os.Stdout, opts)
}

// verify prints one line per segment and returns errCorrupt if any
// segment fails its checksum or cannot be parsed.
func verify(w io.Writer, dir string) error {
	results, err := segment.VerifyDir(dir)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintf(w, "%s: no segments\n", dir)
		return nil
	}
	corrupt := 0
	for _, result := range results {
		name := result.Entry.Path
		switch {
		case result.Err == nil:
			fmt.Fprintf(w, "ok       %s  %d records  blake3 %x\n", name, result.Header.Records, result.Header.Checksum[:8])
		case segment.Corrupt(result.Err):
			corrupt++
			fmt.Fprintf(w, "CORRUPT  %s  %v\n", name, result.Err)
		default:
			fmt.Fprintf(w, "unsealed %s  %d records\n", name, result.Header.Records)
		}
	}
	if corrupt > 0 {
		return fmt.Errorf("%w: %d of %d", errCorrupt, corrupt, len(results))
	}
	return nil
}

func dump(w io.Writer, opts options) error {
	minSeverity, err := envelope.ParseSeverity(opts.minSeverity)
	if err != nil {
		return err
	}
	schemas, err := registry.FromManifest(opts.schemas)
	if err != nil {
		return err
	}
	write, err := newWriter(w, opts, schemas)
	if err != nil {
		return err
	}

	if !opts.merge {
		return segment.Replay(opts.dir, func(e *envelope.Envelope) error {
			if e.Severity < minSeverity {
				return nil
			}
			return write(e)
		})
	}

	var records []envelope.Envelope
	err = segment.Replay(opts.dir, func(e *envelope.Envelope) error {
		if e.Severity >= minSeverity {
			records = append(records, *e)
		}
		return nil
	})
	if err != nil {
		return err
	}
	merged := envelope.MergeByTimestamp(envelope.SplitByProducer(records)...)
	for i := range merged {
		if err := write(&merged[i]); err != nil {
			return err
		}
	}
	return nil
}

// newWriter returns the per-record output function for opts.format.
func newWriter(w io.Writer, opts options, schemas *registry.Registry) (func(*envelope.Envelope) error, error) {
	switch opts.format {
	case "text":
		colorMode, err := present.ParseColorMode(opts.color)
		if err != nil {
			return nil, err
		}
		printer := present.NewPrinter(present.Options{Output: w, Registry: schemas, Color: colorMode})
		return printer.Print, nil
	case "json":
		encoder := json.NewEncoder(w)
		return func(e *envelope.Envelope) error {
			return encoder.Encode(present.NewRecord(e, schemas))
		}, nil
	case "cbor":
		encoder := codec.NewEncoder(w)
		return func(e *envelope.Envelope) error {
			return encoder.Encode(present.NewRecord(e, schemas))
		}, nil
	default:
		return nil, process.Usagef("invalid format %q (want text, json, or cbor)", opts.format)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `rtlog-dump: read or verify a segment store.

Reads raw and archived segments in index order. The store of a running
pipeline can be read too: the active segment is unsealed and shows its
records up to the last flush.

Usage:
  rtlog-dump [flags] DIR

Examples:
  # Everything, in consumption order
  rtlog-dump ~/.cache/rtlog/segments

  # Errors only, merged by timestamp, as JSON lines
  rtlog-dump --merge --min-severity error --format json /var/lib/arm/segments

  # Check checksums after a crash
  rtlog-dump --verify /var/lib/arm/segments

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
