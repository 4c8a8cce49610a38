// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fatal

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/rtlog/lib/clock"
	"github.com/bureau-foundation/rtlog/lib/envelope"
	"github.com/bureau-foundation/rtlog/lib/producer"
	"github.com/bureau-foundation/rtlog/lib/ring"
	"github.com/bureau-foundation/rtlog/lib/testutil"
)

var dumpPattern = regexp.MustCompile(`^arm_fatal_error_[0-9a-f-]{36}\.txt$`)

type harness struct {
	terminator *Terminator
	dir        string
	stderr     *lockedBuffer
	exits      chan int
}

type lockedBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

func newHarness(t *testing.T, configure func(*Config)) *harness {
	t.Helper()
	h := &harness{
		dir:    t.TempDir(),
		stderr: &lockedBuffer{},
		exits:  make(chan int, 16),
	}
	config := Config{
		Service: "arm",
		DumpDir: h.dir,
		Stderr:  h.stderr,
		Exit:    func(code int) { h.exits <- code },
	}
	if configure != nil {
		configure(&config)
	}
	h.terminator = New(config)
	return h
}

func (h *harness) dumps(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(DumpGlob(h.dir, "arm"))
	if err != nil {
		t.Fatal(err)
	}
	return matches
}

func (h *harness) onlyDump(t *testing.T) string {
	t.Helper()
	dumps := h.dumps(t)
	if len(dumps) != 1 {
		t.Fatalf("found %d dump files, want 1: %v", len(dumps), dumps)
	}
	if !dumpPattern.MatchString(filepath.Base(dumps[0])) {
		t.Errorf("dump name %q does not match the naming pattern", filepath.Base(dumps[0]))
	}
	contents, err := os.ReadFile(dumps[0])
	if err != nil {
		t.Fatal(err)
	}
	return string(contents)
}

func TestDieWritesDumpAndExits(t *testing.T) {
	h := newHarness(t, nil)

	h.terminator.Die("joint %d exceeded torque limit", 4)

	if code := testutil.RequireReceive(t, h.exits, time.Second, "exit"); code != ExitCode {
		t.Errorf("exit code = %d, want %d", code, ExitCode)
	}
	contents := h.onlyDump(t)
	lines := strings.Split(strings.TrimSuffix(contents, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("dump has %d lines, want 2:\n%s", len(lines), contents)
	}
	if !strings.HasPrefix(lines[0], "At ") || !strings.Contains(lines[0], "fatal_test.go:") {
		t.Errorf("location line = %q", lines[0])
	}
	if lines[1] != "joint 4 exceeded torque limit" {
		t.Errorf("message line = %q", lines[1])
	}

	stderr := h.stderr.String()
	for _, want := range []string{"arm encountered a fatal error!", "joint 4 exceeded torque limit", "Info reproduced to " + h.dumps(t)[0]} {
		if !strings.Contains(stderr, want) {
			t.Errorf("stderr missing %q:\n%s", want, stderr)
		}
	}
	if !h.terminator.Terminating() {
		t.Error("Terminating = false after Die")
	}
}

func TestDieContextIncludesHex(t *testing.T) {
	h := newHarness(t, nil)
	var context [envelope.ContextSize]byte
	copy(context[:], "cycle-17")

	h.terminator.DieContext(context[:], "watchdog expired")
	testutil.RequireReceive(t, h.exits, time.Second, "exit")

	contents := h.onlyDump(t)
	if !strings.Contains(contents, "context: 6379636c652d3137\n") {
		t.Errorf("dump missing hex context:\n%s", contents)
	}
}

func TestDieWithErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"wrapped errno", fmt.Errorf("mapping segment: %w", unix.ENOMEM), "(caused by error code 12, ENOMEM: cannot allocate memory)"},
		{"path error", &os.PathError{Op: "open", Path: "/dev/can0", Err: unix.ENOENT}, "(caused by error code 2, ENOENT: no such file or directory)"},
		{"no errno", errors.New("bus stalled"), "(caused by bus stalled)"},
		{"nil", nil, "(caused by an unknown error)"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.terminator.DieWithErrno(test.err, "cannot open %s", "device")
			testutil.RequireReceive(t, h.exits, time.Second, "exit")
			contents := h.onlyDump(t)
			if !strings.Contains(contents, "cannot open device "+test.want) {
				t.Errorf("dump = %q, want message ending %q", contents, test.want)
			}
		})
	}
}

func TestPanicWithErrno(t *testing.T) {
	cause := fmt.Errorf("mapping segment: %w", unix.ENOMEM)
	recovered := func() (value any) {
		defer func() { value = recover() }()
		PanicWithErrno(cause, "cannot map %s", "segment 3")
		return nil
	}()

	panicValue, ok := recovered.(*ErrnoPanic)
	if !ok {
		t.Fatalf("recovered %T (%v), want *ErrnoPanic", recovered, recovered)
	}
	want := "cannot map segment 3 (caused by error code 12, ENOMEM: cannot allocate memory)"
	if panicValue.Error() != want {
		t.Errorf("panic message = %q, want %q", panicValue.Error(), want)
	}
	if !errors.Is(panicValue, unix.ENOMEM) {
		t.Error("panic value does not wrap the errno")
	}
}

func TestConcurrentCallersProduceOneDump(t *testing.T) {
	h := newHarness(t, nil)

	var returned atomic.Int32
	for i := range 8 {
		go func() {
			h.terminator.Die("worker %d failed", i)
			returned.Add(1)
		}()
	}

	testutil.RequireReceive(t, h.exits, time.Second, "first exit")
	testutil.WaitFor(t, time.Second, func() bool { return returned.Load() == 1 }, "winner returned")

	// Losers stay blocked; give them a chance to misbehave.
	time.Sleep(50 * time.Millisecond)
	if returned.Load() != 1 {
		t.Errorf("%d callers returned, want 1", returned.Load())
	}
	if len(h.exits) != 0 {
		t.Errorf("exit called %d extra times", len(h.exits))
	}
	h.onlyDump(t)
}

func TestCheckAndMust(t *testing.T) {
	h := newHarness(t, nil)
	h.terminator.Check(nil, "never")
	if value := Must(42, nil).OrDie(h.terminator, "never"); value != 42 {
		t.Errorf("Must = %d, want 42", value)
	}
	if len(h.exits) != 0 || len(h.dumps(t)) != 0 {
		t.Fatal("nil error terminated")
	}

	Must(0, errors.New("segment directory missing")).OrDie(h.terminator, "opening store")
	testutil.RequireReceive(t, h.exits, time.Second, "exit")
	if contents := h.onlyDump(t); !strings.Contains(contents, "opening store: segment directory missing") {
		t.Errorf("dump = %q", contents)
	}
}

func TestHookRunsAfterDumpAndIsBounded(t *testing.T) {
	var dumpExistedDuringHook atomic.Bool
	h := newHarness(t, func(config *Config) {
		config.HookTimeout = 20 * time.Millisecond
		config.OnTerminate = func() {
			matches, _ := filepath.Glob(DumpGlob(config.DumpDir, "arm"))
			dumpExistedDuringHook.Store(len(matches) == 1)
			time.Sleep(time.Hour)
		}
	})

	start := time.Now()
	h.terminator.Die("estop")
	testutil.RequireReceive(t, h.exits, time.Second, "exit")
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Die took %v with a hanging hook", elapsed)
	}
	if !dumpExistedDuringHook.Load() {
		t.Error("dump not written before the hook ran")
	}
	if !strings.Contains(h.stderr.String(), "termination hook did not finish") {
		t.Error("stderr does not report the hook timeout")
	}
}

func TestPanickingHookStillExits(t *testing.T) {
	h := newHarness(t, func(config *Config) {
		config.OnTerminate = func() { panic("store already closed") }
	})
	h.terminator.Die("estop")
	testutil.RequireReceive(t, h.exits, time.Second, "exit")
	h.onlyDump(t)
}

func TestUnwritableDumpDirStillExits(t *testing.T) {
	h := newHarness(t, func(config *Config) {
		config.DumpDir = filepath.Join(config.DumpDir, "missing")
	})
	h.terminator.Die("estop")
	if code := testutil.RequireReceive(t, h.exits, time.Second, "exit"); code != ExitCode {
		t.Errorf("exit code = %d", code)
	}
	if !strings.Contains(h.stderr.String(), "Failed to write error info to") {
		t.Errorf("stderr = %q", h.stderr.String())
	}
}

const (
	helperEnv    = "RTLOG_FATAL_HELPER"
	helperDirEnv = "RTLOG_FATAL_HELPER_DIR"
)

// TestFatalHelperProcess is the child side of
// TestFatalTerminatesProcessWithFullQueue. It does nothing in a normal
// test run.
func TestFatalHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process only")
	}

	queue, err := ring.New(8)
	if err != nil {
		os.Exit(3)
	}
	handle, err := producer.New(producer.Config{ID: 1, Name: "control", Queue: queue, Clock: clock.Real()})
	if err != nil {
		os.Exit(3)
	}
	for handle.Text(envelope.SeverityError, "filling") == producer.Accepted {
	}
	if queue.Len() != queue.Capacity() {
		os.Exit(4)
	}

	terminator := New(Config{Service: "arm", DumpDir: os.Getenv(helperDirEnv)})
	defer os.Exit(5) // deferred functions must not run
	terminator.Die("control loop overran by %dus", 1250)
}

func TestFatalTerminatesProcessWithFullQueue(t *testing.T) {
	executable, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	dir := t.TempDir()

	command := exec.Command(executable, "-test.run=^TestFatalHelperProcess$")
	command.Env = append(os.Environ(), helperEnv+"=1", helperDirEnv+"="+dir)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	err = command.Run()

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("helper process: %v (stderr: %s)", err, stderr.String())
	}
	if exitErr.ExitCode() != ExitCode {
		t.Fatalf("exit code = %d, want %d (stderr: %s)", exitErr.ExitCode(), ExitCode, stderr.String())
	}

	matches, err := filepath.Glob(DumpGlob(dir, "arm"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("dump files = %v, %v; want exactly one", matches, err)
	}
	if !dumpPattern.MatchString(filepath.Base(matches[0])) {
		t.Errorf("dump name %q does not match the naming pattern", filepath.Base(matches[0]))
	}
	contents, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(contents), "control loop overran by 1250us") {
		t.Errorf("dump contents = %q", contents)
	}
	if !strings.Contains(stderr.String(), "control loop overran by 1250us") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
