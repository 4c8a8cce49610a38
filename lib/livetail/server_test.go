// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package livetail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/rtlog/lib/envelope"
	"github.com/bureau-foundation/rtlog/lib/testutil"
)

const testTimeout = 5 * time.Second

func startServer(t *testing.T, config Config) *Server {
	t.Helper()
	if config.Address == "" {
		config.Address = filepath.Join(testutil.SocketDir(t), "tail.sock")
	}
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	server, err := Listen(config)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, testTimeout, "Serve returned")
	})
	return server
}

func dial(t *testing.T, server *Server) *Client {
	t.Helper()
	before := server.Stats().Accepted
	client, err := Dial(context.Background(), server.Addr().Network(), server.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	testutil.WaitFor(t, testTimeout, func() bool { return server.Stats().Accepted > before }, "observer registered")
	client.SetDeadline(time.Now().Add(testTimeout))
	return client
}

func record(sequence uint16, text string) *envelope.Envelope {
	var e envelope.Envelope
	e.Timestamp = int64(sequence) * 1_000_000
	e.Severity = envelope.SeverityInfo
	e.ProducerID = 1
	e.Sequence = sequence
	e.SetText(text)
	return &e
}

func TestFrameEncoding(t *testing.T) {
	e := record(7, "slack 12us")
	var buffer [MaxFrameSize]byte
	n := EncodeFrame(e, buffer[:])
	if n != FramePrefixSize+envelope.HeaderSize+len("slack 12us") {
		t.Fatalf("frame length = %d", n)
	}
	// Big-endian prefix.
	if !bytes.Equal(buffer[:4], []byte{0, 0, 0, byte(envelope.HeaderSize + 10)}) {
		t.Errorf("prefix = % x", buffer[:4])
	}

	var readBuffer [MaxFrameSize]byte
	payload, err := ReadFrame(bytes.NewReader(buffer[:n]), readBuffer[:])
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	var decoded envelope.Envelope
	if err := envelope.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != *e {
		t.Errorf("decoded envelope differs")
	}
}

func TestReadFrameErrors(t *testing.T) {
	var buffer [MaxFrameSize]byte
	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"empty", nil, io.EOF},
		{"short prefix", []byte{0, 0}, io.ErrUnexpectedEOF},
		{"too small", []byte{0, 0, 0, 10}, ErrFrameSize},
		{"too large", []byte{0, 0, 0x10, 0}, ErrFrameSize},
		{"short body", append([]byte{0, 0, 0, byte(envelope.HeaderSize)}, make([]byte, 20)...), io.ErrUnexpectedEOF},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := ReadFrame(bytes.NewReader(test.input), buffer[:]); !errors.Is(err, test.want) {
				t.Errorf("ReadFrame = %v, want %v", err, test.want)
			}
		})
	}
}

func TestObserverSeesOnlyLaterRecords(t *testing.T) {
	server := startServer(t, Config{})

	early := dial(t, server)
	for i := range 5 {
		server.Publish(record(uint16(i), fmt.Sprintf("before %d", i)))
	}

	late := dial(t, server)
	for i := 5; i < 10; i++ {
		server.Publish(record(uint16(i), fmt.Sprintf("after %d", i)))
	}

	var got envelope.Envelope
	for i := range 10 {
		if err := early.Next(&got); err != nil {
			t.Fatalf("early observer record %d: %v", i, err)
		}
		if got.Sequence != uint16(i) {
			t.Fatalf("early observer record %d has sequence %d", i, got.Sequence)
		}
	}
	for i := 5; i < 10; i++ {
		if err := late.Next(&got); err != nil {
			t.Fatalf("late observer record %d: %v", i, err)
		}
		if got.Sequence != uint16(i) || got.Text() != fmt.Sprintf("after %d", i) {
			t.Fatalf("late observer got sequence %d %q, want %d", got.Sequence, got.Text(), i)
		}
	}
}

func TestPublishWithoutObservers(t *testing.T) {
	server := startServer(t, Config{})
	server.Publish(record(0, "nobody listening"))
	if stats := server.Stats(); stats.Published != 0 || stats.FramesDropped != 0 {
		t.Errorf("stats = %+v, want nothing published", stats)
	}
}

func TestSlowObserverDropsFrames(t *testing.T) {
	server := startServer(t, Config{SubscriberBuffer: 2})

	// A raw connection that never reads fills its socket buffer, then
	// its frame queue.
	conn, err := net.Dial(server.Addr().Network(), server.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	testutil.WaitFor(t, testTimeout, func() bool { return server.Subscribers() == 1 }, "observer registered")

	large := make([]byte, envelope.PayloadSize)
	for i := range 20000 {
		e := record(uint16(i), "")
		e.AppendText(large)
		server.Publish(e)
		if server.Stats().FramesDropped > 0 {
			break
		}
	}
	if server.Stats().FramesDropped == 0 {
		t.Fatal("no frames dropped for an observer that never reads")
	}
}

func TestWriteDeadlineDisconnects(t *testing.T) {
	server := startServer(t, Config{SubscriberBuffer: 4, WriteTimeout: 20 * time.Millisecond})

	conn, err := net.Dial(server.Addr().Network(), server.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	testutil.WaitFor(t, testTimeout, func() bool { return server.Subscribers() == 1 }, "observer registered")

	large := make([]byte, envelope.PayloadSize)
	testutil.WaitFor(t, testTimeout, func() bool {
		e := record(0, "")
		e.AppendText(large)
		server.Publish(e)
		return server.Subscribers() == 0
	}, "stalled observer disconnected")

	if server.Stats().Disconnected != 1 {
		t.Errorf("Disconnected = %d, want 1", server.Stats().Disconnected)
	}
}

func TestClosedObserverRemoved(t *testing.T) {
	server := startServer(t, Config{})
	client := dial(t, server)
	client.Close()
	testutil.WaitFor(t, testTimeout, func() bool { return server.Subscribers() == 0 }, "closed observer removed")

	// Publishing after the observer left must not block or panic.
	server.Publish(record(1, "after close"))
}

func TestCloseEndsObserverStreams(t *testing.T) {
	server := startServer(t, Config{})
	client := dial(t, server)

	server.Publish(record(0, "last"))
	var got envelope.Envelope
	if err := client.Next(&got); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if err := server.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := client.Next(&got); err == nil {
		t.Fatal("Next succeeded after server Close")
	}
	if server.Subscribers() != 0 {
		t.Errorf("Subscribers = %d after Close", server.Subscribers())
	}
}

func TestCloseDeliversQueuedFrames(t *testing.T) {
	server := startServer(t, Config{SubscriberBuffer: 64})
	client := dial(t, server)

	const count = 40
	for i := range count {
		server.Publish(record(uint16(i), fmt.Sprintf("record %d", i)))
	}
	if err := server.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Published after Close: never delivered.
	server.Publish(record(count, "late"))

	var got envelope.Envelope
	for i := range count {
		if err := client.Next(&got); err != nil {
			t.Fatalf("Next %d: %v", i, err)
		}
		if got.Sequence != uint16(i) {
			t.Fatalf("frame %d has sequence %d", i, got.Sequence)
		}
	}
	if err := client.Next(&got); !errors.Is(err, io.EOF) {
		t.Errorf("Next after the queued frames = %v, want io.EOF", err)
	}
	if published := server.Stats().Published; published != count {
		t.Errorf("Published = %d, want %d", published, count)
	}
}

func TestCloseCutsOffStalledObserver(t *testing.T) {
	server := startServer(t, Config{SubscriberBuffer: 64, WriteTimeout: 20 * time.Millisecond})

	// A raw connection that never reads.
	conn, err := net.Dial(server.Addr().Network(), server.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	testutil.WaitFor(t, testTimeout, func() bool { return server.Subscribers() == 1 }, "observer registered")

	large := make([]byte, envelope.PayloadSize)
	for i := range 64 {
		e := record(uint16(i), "")
		e.AppendText(large)
		server.Publish(e)
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		server.Close()
	}()
	testutil.RequireClosed(t, closed, testTimeout, "Close returned despite a stalled observer")
	if server.Subscribers() != 0 {
		t.Errorf("Subscribers = %d after Close", server.Subscribers())
	}
}

func TestTCPListener(t *testing.T) {
	server := startServer(t, Config{Network: "tcp", Address: "127.0.0.1:0"})
	client := dial(t, server)
	server.Publish(record(3, "over tcp"))

	var got envelope.Envelope
	if err := client.Next(&got); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got.Text() != "over tcp" {
		t.Errorf("Text = %q", got.Text())
	}
}

func TestListenValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := Listen(Config{Address: "x"}); err == nil {
		t.Error("Listen without Logger succeeded")
	}
	if _, err := Listen(Config{Logger: logger}); err == nil {
		t.Error("Listen without Address succeeded")
	}
	if _, err := Listen(Config{Logger: logger, Network: "udp", Address: "127.0.0.1:0"}); err == nil {
		t.Error("Listen on udp succeeded")
	}
}
