// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// UsageError marks an error in the command line. Fatal reports it as
// "usage error: ..." and exits with status 2.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// ExitCode is the conventional status for bad command lines.
func (e *UsageError) ExitCode() int { return 2 }

// Usagef returns a UsageError with a formatted message.
func Usagef(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// Fatal writes err to stderr and exits: status 2 for a UsageError
// anywhere in the chain, 1 otherwise. Use it in main for errors
// returned by run, where the logger may not exist yet or may already
// be closed.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

// report writes the message for err and returns the exit status.
func report(w io.Writer, err error) int {
	var usage *UsageError
	if errors.As(err, &usage) {
		fmt.Fprintf(w, "usage error: %v\n", err)
		return usage.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
