// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fatal

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ExitCode is the process exit status after a fatal error (-1 as an
// 8-bit status).
const ExitCode = 255

const (
	// DefaultDumpDir is where dump files go when Config.DumpDir is empty.
	DefaultDumpDir = "/tmp"

	// DefaultHookTimeout bounds OnTerminate when Config.HookTimeout is zero.
	DefaultHookTimeout = 200 * time.Millisecond
)

// Config holds the parameters for a Terminator.
type Config struct {
	// Service prefixes dump file names and the stderr banner.
	Service string

	// DumpDir receives dump files. Defaults to /tmp.
	DumpDir string

	// Stderr receives the echoed report. Defaults to os.Stderr.
	Stderr io.Writer

	// Exit ends the process. Defaults to os.Exit. Tests substitute a
	// recorder; if Exit returns, Die returns too.
	Exit func(code int)

	// OnTerminate runs after the dump is written and before exit. It
	// must tolerate running concurrently with any other goroutine.
	OnTerminate func()

	// HookTimeout bounds OnTerminate.
	HookTimeout time.Duration
}

const (
	stateNormal uint32 = iota
	stateTerminating
)

// Terminator is the process-wide fatal error path. Create one at
// startup and pass it to every collaborator that may need to abort.
type Terminator struct {
	config Config
	state  atomic.Uint32
}

// New returns a Terminator with defaults filled in.
func New(config Config) *Terminator {
	if config.Service == "" {
		config.Service = filepath.Base(os.Args[0])
	}
	if config.DumpDir == "" {
		config.DumpDir = DefaultDumpDir
	}
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}
	if config.Exit == nil {
		config.Exit = os.Exit
	}
	if config.HookTimeout <= 0 {
		config.HookTimeout = DefaultHookTimeout
	}
	return &Terminator{config: config}
}

// Terminating reports whether some goroutine has begun termination.
func (t *Terminator) Terminating() bool {
	return t.state.Load() == stateTerminating
}

// Die reports a formatted message and terminates the process.
func (t *Terminator) Die(format string, args ...any) {
	t.terminate(2, nil, fmt.Sprintf(format, args...))
}

// DieContext is Die with a caller correlation context (for example the
// envelope context of the record being processed) included in the
// dump as hex.
func (t *Terminator) DieContext(context []byte, format string, args ...any) {
	t.terminate(2, context, fmt.Sprintf(format, args...))
}

// DieWithErrno is Die with the OS error code from err's chain appended
// as "(caused by error code N, NAME: description)".
func (t *Terminator) DieWithErrno(err error, format string, args ...any) {
	t.terminate(2, nil, fmt.Sprintf(format, args...)+" "+describeErrno(err))
}

// ErrnoPanic is the panic value raised by PanicWithErrno. It wraps the
// original error so a recover can still inspect the errno.
type ErrnoPanic struct {
	Message string
	Err     error
}

func (p *ErrnoPanic) Error() string { return p.Message }

func (p *ErrnoPanic) Unwrap() error { return p.Err }

// PanicWithErrno panics with the formatted message and the same errno
// description DieWithErrno appends. It writes no dump and deferred
// calls run, so use it where the caller, not the whole process, owns
// the failure.
func PanicWithErrno(err error, format string, args ...any) {
	panic(&ErrnoPanic{
		Message: fmt.Sprintf(format, args...) + " " + describeErrno(err),
		Err:     err,
	})
}

// Check terminates with message and err if err is non-nil.
func (t *Terminator) Check(err error, message string) {
	if err != nil {
		t.terminate(2, nil, message+": "+err.Error())
	}
}

// Outcome holds a (value, error) pair awaiting OrDie.
type Outcome[V any] struct {
	value V
	err   error
}

// Must captures the results of a fallible call for OrDie.
//
//	store := fatal.Must(segment.Open(config)).OrDie(term, "opening store")
func Must[V any](value V, err error) Outcome[V] {
	return Outcome[V]{value: value, err: err}
}

// OrDie returns the captured value, or terminates with message and
// the captured error.
func (o Outcome[V]) OrDie(t *Terminator, message string) V {
	if o.err != nil {
		t.terminate(2, nil, message+": "+o.err.Error())
	}
	return o.value
}

func describeErrno(err error) string {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		if err == nil {
			return "(caused by an unknown error)"
		}
		return fmt.Sprintf("(caused by %v)", err)
	}
	name := unix.ErrnoName(errno)
	if name == "" {
		name = "UNKNOWN"
	}
	return fmt.Sprintf("(caused by error code %d, %s: %s)", int(errno), name, errno.Error())
}

// terminate is the single exit path. skip counts frames above it to
// the caller whose location is reported.
func (t *Terminator) terminate(skip int, context []byte, message string) {
	if !t.state.CompareAndSwap(stateNormal, stateTerminating) {
		// Another goroutine is already terminating and will exit the
		// process.
		select {}
	}

	location := "At unknown location"
	if _, file, line, ok := runtime.Caller(skip); ok {
		location = fmt.Sprintf("At %s:%d", file, line)
	}

	var report strings.Builder
	report.WriteString(location)
	report.WriteByte('\n')
	report.WriteString(message)
	report.WriteByte('\n')
	if trimmed := trimContext(context); len(trimmed) > 0 {
		fmt.Fprintf(&report, "context: %s\n", hex.EncodeToString(trimmed))
	}

	stderr := t.config.Stderr
	fmt.Fprintf(stderr, "%s encountered a fatal error! Info to follow:\n", t.config.Service)
	io.WriteString(stderr, report.String())

	path, err := t.writeDump(report.String())
	if err != nil {
		fmt.Fprintf(stderr, "Failed to write error info to %s: %v\n", path, err)
	} else {
		fmt.Fprintf(stderr, "Info reproduced to %s\n", path)
	}

	t.runHook()
	t.config.Exit(ExitCode)
}

func trimContext(context []byte) []byte {
	end := len(context)
	for end > 0 && context[end-1] == 0 {
		end--
	}
	return context[:end]
}

// DumpName returns a dump file name for service with the given random
// suffix.
func DumpName(service, suffix string) string {
	return service + "_fatal_error_" + suffix + ".txt"
}

// DumpGlob returns a filepath.Match pattern for service's dump files
// in dir.
func DumpGlob(dir, service string) string {
	return filepath.Join(dir, DumpName(service, "*"))
}

// writeDump creates a new dump file exclusively and writes report. A
// name collision retries with a new suffix.
func (t *Terminator) writeDump(report string) (string, error) {
	var path string
	for range 3 {
		path = filepath.Join(t.config.DumpDir, DumpName(t.config.Service, uuid.NewString()))
		file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return path, err
		}
		_, writeErr := io.WriteString(file, report)
		syncErr := file.Sync()
		closeErr := file.Close()
		return path, errors.Join(writeErr, syncErr, closeErr)
	}
	return path, fmt.Errorf("could not create a unique dump file in %s", t.config.DumpDir)
}

func (t *Terminator) runHook() {
	if t.config.OnTerminate == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			// A panicking hook must not stop the exit.
			recover()
		}()
		t.config.OnTerminate()
	}()
	select {
	case <-done:
	case <-time.After(t.config.HookTimeout):
		fmt.Fprintf(t.config.Stderr, "termination hook did not finish within %v\n", t.config.HookTimeout)
	}
}
