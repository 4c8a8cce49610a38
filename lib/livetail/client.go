// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package livetail

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/bureau-foundation/rtlog/lib/envelope"
)

// Client reads frames from a live-tail server.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
	buffer [MaxFrameSize]byte
}

// Dial connects to a live-tail server. The stream starts with the
// first frame published after the server's accept loop registers the
// connection; records consumed between Dial returning and that
// registration are not sent. Callers that need a known starting point
// wait for the server's Subscribers or Stats().Accepted to count them.
func Dial(ctx context.Context, network, address string) (*Client, error) {
	if network == "" {
		network = "unix"
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, reader: bufio.NewReaderSize(conn, 64*1024)}, nil
}

// Next blocks until the next frame arrives and decodes it into e.
// Returns io.EOF when the server closes the stream.
func (c *Client) Next(e *envelope.Envelope) error {
	record, err := ReadFrame(c.reader, c.buffer[:])
	if err != nil {
		return err
	}
	return envelope.Unmarshal(record, e)
}

// SetDeadline bounds subsequent Next calls.
func (c *Client) SetDeadline(deadline time.Time) error {
	return c.conn.SetReadDeadline(deadline)
}

// Close disconnects from the server.
func (c *Client) Close() error {
	return c.conn.Close()
}
