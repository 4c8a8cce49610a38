// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package livetail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/rtlog/lib/envelope"
)

const (
	// DefaultSubscriberBuffer is the per-observer frame queue depth.
	DefaultSubscriberBuffer = 256

	// DefaultWriteTimeout bounds a single frame write to an observer.
	DefaultWriteTimeout = 2 * time.Second
)

// Config holds the parameters for a Server.
type Config struct {
	// Network is "unix" (the default) or "tcp".
	Network string

	// Address is the socket path for unix or host:port for tcp.
	Address string

	// SubscriberBuffer is the number of frames queued per observer.
	SubscriberBuffer int

	// WriteTimeout is the deadline for writing one frame. An observer
	// that misses it is disconnected.
	WriteTimeout time.Duration

	// Logger is required.
	Logger *slog.Logger
}

// Stats is a snapshot of server counters.
type Stats struct {
	Subscribers   int
	Accepted      uint64
	Disconnected  uint64
	Published     uint64
	FramesDropped uint64
}

// Server accepts observers and fans frames out to them.
type Server struct {
	config   Config
	logger   *slog.Logger
	listener net.Listener

	subscriberMu sync.RWMutex
	subscribers  map[*subscriber]struct{}
	closed       bool
	// closing is closed by Close; write loops flush what is queued
	// and disconnect.
	closing chan struct{}

	connections sync.WaitGroup
	closeOnce   sync.Once

	accepted      atomic.Uint64
	disconnected  atomic.Uint64
	published     atomic.Uint64
	framesDropped atomic.Uint64
}

type subscriber struct {
	conn   net.Conn
	frames chan []byte
	// gone is closed once the subscriber is removed from the set.
	gone     chan struct{}
	goneOnce sync.Once
}

// Listen binds the configured endpoint. For unix sockets, a stale
// socket file at the path is removed first. Call Serve to start
// accepting.
func Listen(config Config) (*Server, error) {
	if config.Logger == nil {
		return nil, errors.New("livetail: Logger is required")
	}
	if config.Address == "" {
		return nil, errors.New("livetail: Address is required")
	}
	if config.Network == "" {
		config.Network = "unix"
	}
	if config.Network != "unix" && config.Network != "tcp" {
		return nil, fmt.Errorf("livetail: unsupported network %q", config.Network)
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}

	if config.Network == "unix" {
		if err := os.Remove(config.Address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale socket %s: %w", config.Address, err)
		}
	}
	listener, err := net.Listen(config.Network, config.Address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s %s: %w", config.Network, config.Address, err)
	}

	return &Server{
		config:      config,
		logger:      config.Logger,
		listener:    listener,
		subscribers: make(map[*subscriber]struct{}),
		closing:     make(chan struct{}),
	}, nil
}

// Addr returns the bound address (useful with tcp port 0).
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts observers until ctx is cancelled or Close is called,
// then closes every observer connection and waits for their
// goroutines to exit.
//
// An observer is connected once the accept loop has registered it,
// which can be later than the moment Dial returns on the other side.
// Frames published before registration are not delivered to it.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.Info("live tail listening", "network", s.config.Network, "address", s.config.Address)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("live tail accept failed", "error", err)
			continue
		}
		if !s.register(conn) {
			conn.Close()
			break
		}
	}

	s.Close()
	s.connections.Wait()
	return nil
}

// register adds conn to the subscriber set and starts its goroutines.
// Returns false if the server is closed.
func (s *Server) register(conn net.Conn) bool {
	sub := &subscriber{
		conn:   conn,
		frames: make(chan []byte, s.config.SubscriberBuffer),
		gone:   make(chan struct{}),
	}

	s.subscriberMu.Lock()
	if s.closed {
		s.subscriberMu.Unlock()
		return false
	}
	s.subscribers[sub] = struct{}{}
	s.subscriberMu.Unlock()

	s.accepted.Add(1)
	s.logger.Debug("live tail observer connected", "remote", conn.RemoteAddr().String())

	s.connections.Add(2)
	go func() {
		defer s.connections.Done()
		s.writeLoop(sub)
	}()
	go func() {
		defer s.connections.Done()
		// Observers never send anything meaningful; reading only
		// detects a closed peer promptly.
		io.Copy(io.Discard, conn)
		s.remove(sub)
	}()
	return true
}

func (s *Server) writeLoop(sub *subscriber) {
	for {
		select {
		case <-sub.gone:
			return
		case frame := <-sub.frames:
			sub.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if _, err := sub.conn.Write(frame); err != nil {
				s.logger.Debug("live tail observer write failed", "error", err)
				s.remove(sub)
				return
			}
		case <-s.closing:
			s.flushQueued(sub)
			s.remove(sub)
			return
		}
	}
}

// flushQueued writes the frames already queued for sub, all within
// one WriteTimeout. Publish enqueues nothing once the server is
// closed, so the queue only shrinks here.
func (s *Server) flushQueued(sub *subscriber) {
	sub.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	for {
		select {
		case frame := <-sub.frames:
			if _, err := sub.conn.Write(frame); err != nil {
				s.logger.Debug("live tail observer flush failed", "error", err, "unsent", len(sub.frames)+1)
				return
			}
		default:
			return
		}
	}
}

// remove drops sub from the set and closes its connection. Safe to
// call more than once.
func (s *Server) remove(sub *subscriber) {
	sub.goneOnce.Do(func() {
		s.subscriberMu.Lock()
		delete(s.subscribers, sub)
		s.subscriberMu.Unlock()
		close(sub.gone)
		sub.conn.Close()
		s.disconnected.Add(1)
		s.logger.Debug("live tail observer disconnected")
	})
}

// Publish encodes e once and offers the frame to every observer
// without blocking. Called from the consumer goroutine.
func (s *Server) Publish(e *envelope.Envelope) {
	s.subscriberMu.RLock()
	defer s.subscriberMu.RUnlock()
	if s.closed || len(s.subscribers) == 0 {
		return
	}

	frame := make([]byte, FramePrefixSize+envelope.EncodedLength(e))
	EncodeFrame(e, frame)
	s.published.Add(1)

	for sub := range s.subscribers {
		select {
		case sub.frames <- frame:
		default:
			s.framesDropped.Add(1)
		}
	}
}

// Subscribers returns the number of connected observers.
func (s *Server) Subscribers() int {
	s.subscriberMu.RLock()
	defer s.subscriberMu.RUnlock()
	return len(s.subscribers)
}

// Stats returns the server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Subscribers:   s.Subscribers(),
		Accepted:      s.accepted.Load(),
		Disconnected:  s.disconnected.Load(),
		Published:     s.published.Load(),
		FramesDropped: s.framesDropped.Load(),
	}
}

// Close stops accepting, delivers the frames already queued for each
// observer, disconnects every observer, and removes the unix socket
// file. Delivery is bounded: an observer that cannot take its queued
// frames within WriteTimeout is cut off with the rest unsent.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.subscriberMu.Lock()
		s.closed = true
		subscribers := make([]*subscriber, 0, len(s.subscribers))
		for sub := range s.subscribers {
			subscribers = append(subscribers, sub)
		}
		s.subscriberMu.Unlock()

		err = s.listener.Close()
		close(s.closing)

		// A write loop may be mid-write when closing fires, so allow
		// one deadline for that write and one for the flush.
		deadline := time.NewTimer(2 * s.config.WriteTimeout)
		defer deadline.Stop()
		expired := false
		for _, sub := range subscribers {
			if !expired {
				select {
				case <-sub.gone:
				case <-deadline.C:
					expired = true
				}
			}
			s.remove(sub)
		}
		if s.config.Network == "unix" {
			os.Remove(s.config.Address)
		}
	})
	return err
}
