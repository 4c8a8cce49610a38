// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/rtlog/lib/envelope"
	"github.com/bureau-foundation/rtlog/lib/livetail"
	"github.com/bureau-foundation/rtlog/lib/present"
	"github.com/bureau-foundation/rtlog/lib/testutil"
)

const testTimeout = 5 * time.Second

func TestFollowFiltersAndStopsAtLimit(t *testing.T) {
	server, err := livetail.Listen(livetail.Config{
		Address: filepath.Join(testutil.SocketDir(t), "tail.sock"),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		server.Serve(ctx)
	}()
	defer testutil.RequireClosed(t, serveDone, testTimeout, "Serve returned")
	defer cancel()

	client, err := livetail.Dial(ctx, "unix", server.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	client.SetDeadline(time.Now().Add(testTimeout))
	testutil.WaitFor(t, testTimeout, func() bool { return server.Subscribers() == 1 }, "observer registered")

	severities := []envelope.Severity{
		envelope.SeverityDebug, envelope.SeverityWarn, envelope.SeverityInfo,
		envelope.SeverityError, envelope.SeverityWarn,
	}
	for i, severity := range severities {
		var e envelope.Envelope
		e.Severity = severity
		e.ProducerID = 1
		e.Sequence = uint16(i)
		e.SetText("record")
		server.Publish(&e)
	}

	var output bytes.Buffer
	printer := present.NewPrinter(present.Options{Output: &output, Color: present.ColorNever})
	if err := follow(ctx, client, printer, envelope.SeverityWarn, 2); err != nil {
		t.Fatalf("follow: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(output.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("printed %d lines, want 2:\n%s", len(lines), output.String())
	}
	if !strings.Contains(lines[0], "WARN") || !strings.Contains(lines[0], "#1/1 ") {
		t.Errorf("first line = %q, want sequence 1 at WARN", lines[0])
	}
	if !strings.Contains(lines[1], "ERROR") || !strings.Contains(lines[1], "#1/3 ") {
		t.Errorf("second line = %q, want sequence 3 at ERROR", lines[1])
	}
}

func TestFollowEndsCleanlyWhenServerCloses(t *testing.T) {
	server, err := livetail.Listen(livetail.Config{
		Address: filepath.Join(testutil.SocketDir(t), "tail.sock"),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		server.Serve(ctx)
	}()

	client, err := livetail.Dial(context.Background(), "unix", server.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()
	client.SetDeadline(time.Now().Add(testTimeout))
	testutil.WaitFor(t, testTimeout, func() bool { return server.Subscribers() == 1 }, "observer registered")

	cancel()
	testutil.RequireClosed(t, serveDone, testTimeout, "Serve returned")

	printer := present.NewPrinter(present.Options{Output: io.Discard, Color: present.ColorNever})
	if err := follow(context.Background(), client, printer, envelope.SeverityTrace, 0); err != nil {
		t.Errorf("follow after server close = %v, want nil", err)
	}
}
