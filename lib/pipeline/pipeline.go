// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/rtlog/lib/clock"
	"github.com/bureau-foundation/rtlog/lib/config"
	"github.com/bureau-foundation/rtlog/lib/envelope"
	"github.com/bureau-foundation/rtlog/lib/livetail"
	"github.com/bureau-foundation/rtlog/lib/producer"
	"github.com/bureau-foundation/rtlog/lib/registry"
	"github.com/bureau-foundation/rtlog/lib/ring"
	"github.com/bureau-foundation/rtlog/lib/rtsched"
	"github.com/bureau-foundation/rtlog/lib/segment"
)

// ErrAlreadyRunning is returned by a second call to Run.
var ErrAlreadyRunning = errors.New("pipeline: already running")

// ErrTooManyProducers is returned when every producer id is taken.
var ErrTooManyProducers = errors.New("pipeline: producer ids exhausted")

// Sink receives every consumed envelope after the store and live tail.
// Sinks run on the consumer goroutine and must not retain e.
type Sink interface {
	Consume(e *envelope.Envelope)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e *envelope.Envelope)

func (f SinkFunc) Consume(e *envelope.Envelope) { f(e) }

// Config holds everything Open needs.
type Config struct {
	QueueCapacity int
	MinSeverity   envelope.Severity

	DrainInterval time.Duration
	DrainBatch    int
	FlushInterval time.Duration
	// StatsInterval of zero disables periodic stats logging.
	StatsInterval time.Duration

	Store segment.Config

	// LiveTail is nil when live tail is disabled. Its Logger is
	// filled in by Open.
	LiveTail *livetail.Config

	Consumer  rtsched.Settings
	Producers rtsched.Settings

	// Sinks receive consumed envelopes after the store and live tail.
	Sinks []Sink
}

// FromConfig converts a validated file configuration.
func FromConfig(file *config.Config) (Config, error) {
	consumer, err := file.Scheduling.Consumer.Settings()
	if err != nil {
		return Config{}, fmt.Errorf("scheduling.consumer: %w", err)
	}
	producers, err := file.Scheduling.Producers.Settings()
	if err != nil {
		return Config{}, fmt.Errorf("scheduling.producers: %w", err)
	}

	pipelineConfig := Config{
		QueueCapacity: file.Queue.Capacity,
		MinSeverity:   file.MinSeverity(),
		DrainInterval: file.Consumer.DrainInterval,
		DrainBatch:    file.Consumer.DrainBatch,
		FlushInterval: file.Consumer.FlushInterval,
		StatsInterval: file.Consumer.StatsInterval,
		Store: segment.Config{
			Directory:      file.Store.Directory,
			SegmentRecords: file.Store.SegmentRecords,
			FlushEvery:     file.Store.FlushEvery,
			Compression:    file.Compression(),
		},
		Consumer:  consumer,
		Producers: producers,
	}
	if file.LiveTail.Enabled {
		pipelineConfig.LiveTail = &livetail.Config{
			Network:          file.LiveTail.Network,
			Address:          file.LiveTail.Address,
			SubscriberBuffer: file.LiveTail.SubscriberBuffer,
			WriteTimeout:     file.LiveTail.WriteTimeout,
		}
	}
	return pipelineConfig, nil
}

// Pipeline is the explicit handle to one telemetry pipeline.
type Pipeline struct {
	config   Config
	logger   *slog.Logger
	clock    clock.Clock
	queue    *ring.Queue
	registry *registry.Registry
	level    producer.LevelVar
	store    *segment.Store
	tail     *livetail.Server

	producerMu sync.Mutex
	producers  []*producer.Handle

	running atomic.Bool

	// Consumer-goroutine state.
	scratch envelope.Envelope
	visit   func(*envelope.Envelope)

	consumed    atomic.Uint64
	storeErrors atomic.Uint64
}

// Open creates the queue, opens the store (clearing the previous
// run's segments), and binds the live-tail endpoint. The registry is
// frozen: all schemas must be registered before Open. A nil registry
// means text-only telemetry.
func Open(pipelineConfig Config, schemas *registry.Registry, logger *slog.Logger, clk clock.Clock) (*Pipeline, error) {
	if logger == nil {
		return nil, errors.New("pipeline: logger is required")
	}
	if clk == nil {
		clk = clock.Real()
	}
	if pipelineConfig.DrainInterval <= 0 || pipelineConfig.DrainBatch <= 0 || pipelineConfig.FlushInterval <= 0 {
		return nil, errors.New("pipeline: DrainInterval, DrainBatch, and FlushInterval must be positive")
	}
	if schemas == nil {
		schemas = registry.New()
	}
	schemas.Freeze()

	queue, err := ring.New(pipelineConfig.QueueCapacity)
	if err != nil {
		return nil, err
	}

	storeConfig := pipelineConfig.Store
	storeConfig.Logger = logger.With("component", "store")
	storeConfig.Clock = clk
	store, err := segment.Open(storeConfig)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	p := &Pipeline{
		config:   pipelineConfig,
		logger:   logger,
		clock:    clk,
		queue:    queue,
		registry: schemas,
		store:    store,
	}
	p.level.Set(pipelineConfig.MinSeverity)
	p.visit = p.consume

	if pipelineConfig.LiveTail != nil {
		tailConfig := *pipelineConfig.LiveTail
		tailConfig.Logger = logger.With("component", "live_tail")
		p.tail, err = livetail.Listen(tailConfig)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("starting live tail: %w", err)
		}
	}

	logger.Info("telemetry pipeline opened",
		"queue_capacity", queue.Capacity(),
		"store", store.Directory(),
		"live_tail", p.tail != nil,
		"schemas", len(schemas.Schemas()),
	)
	return p, nil
}

// NewProducer creates a handle for one producer goroutine. Producer
// ids are assigned from 1 in creation order.
func (p *Pipeline) NewProducer(name string, context []byte) (*producer.Handle, error) {
	p.producerMu.Lock()
	defer p.producerMu.Unlock()
	if len(p.producers) >= 0xFFFF {
		return nil, ErrTooManyProducers
	}
	handle, err := producer.New(producer.Config{
		ID:       uint16(len(p.producers) + 1),
		Name:     name,
		Queue:    p.queue,
		Clock:    p.clock,
		Registry: p.registry,
		Level:    &p.level,
		Context:  context,
	})
	if err != nil {
		return nil, err
	}
	p.producers = append(p.producers, handle)
	return handle, nil
}

// PlaceProducerThread applies the configured producer scheduling to
// the calling thread. Producer goroutines call it after
// runtime.LockOSThread.
func (p *Pipeline) PlaceProducerThread() error {
	if p.config.Producers.IsDefault() {
		return nil
	}
	return rtsched.Apply(p.config.Producers)
}

// Registry returns the frozen schema registry.
func (p *Pipeline) Registry() *registry.Registry { return p.registry }

// SetLevel changes the severity threshold for every producer.
func (p *Pipeline) SetLevel(severity envelope.Severity) { p.level.Set(severity) }

// Level returns the current severity threshold.
func (p *Pipeline) Level() envelope.Severity { return p.level.Level() }

// LiveTailAddr returns the live-tail listen address, or nil when live
// tail is disabled.
func (p *Pipeline) LiveTailAddr() net.Addr {
	if p.tail == nil {
		return nil
	}
	return p.tail.Addr()
}

// EmergencySync msyncs the active segment from any goroutine. It is
// the fatal terminator's hook.
func (p *Pipeline) EmergencySync() {
	p.store.EmergencySync()
}

// Run is the consumer loop. It returns after ctx is cancelled and
// shutdown completes, or immediately with ErrAlreadyRunning.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if !p.config.Consumer.IsDefault() {
		if err := rtsched.Apply(p.config.Consumer); err != nil {
			p.logger.Warn("consumer scheduling not applied", "settings", p.config.Consumer.String(), "error", err)
		}
	}

	// The accept loop outlives ctx: observers stay connected through
	// the final drain, and shutdown closes the server afterwards.
	serveCtx, stopServe := context.WithCancel(context.Background())
	defer stopServe()
	var tailDone chan struct{}
	if p.tail != nil {
		tailDone = make(chan struct{})
		go func() {
			defer close(tailDone)
			p.tail.Serve(serveCtx)
		}()
	}

	ticker := p.clock.NewTicker(p.config.DrainInterval)
	defer ticker.Stop()

	lastFlush := p.clock.Now()
	lastStats := lastFlush
	for {
		select {
		case <-ctx.Done():
			p.finalDrain()
			err := p.shutdown()
			stopServe()
			if tailDone != nil {
				<-tailDone
			}
			return err
		case <-ticker.C:
		}

		p.drainCycle(ctx)

		now := p.clock.Now()
		if p.store.Unflushed() > 0 && now.Sub(lastFlush) >= p.config.FlushInterval {
			p.flush()
			lastFlush = now
		}
		if p.config.StatsInterval > 0 && now.Sub(lastStats) >= p.config.StatsInterval {
			p.logStats()
			lastStats = now
		}
	}
}

// drainCycle drains batches until one comes back short or ctx is
// cancelled.
func (p *Pipeline) drainCycle(ctx context.Context) int {
	total := 0
	for {
		drained := p.queue.Drain(p.config.DrainBatch, &p.scratch, p.visit)
		total += drained
		if drained < p.config.DrainBatch || ctx.Err() != nil {
			return total
		}
	}
}

// finalDrain empties the queue once more at shutdown. Producers that
// keep submitting cannot hold it open past one queue's worth of
// batches.
func (p *Pipeline) finalDrain() {
	rounds := p.queue.Capacity()/p.config.DrainBatch + 2
	for range rounds {
		if p.queue.Drain(p.config.DrainBatch, &p.scratch, p.visit) < p.config.DrainBatch {
			return
		}
	}
}

func (p *Pipeline) consume(e *envelope.Envelope) {
	if err := p.store.Append(e); err != nil {
		errorCount := p.storeErrors.Add(1)
		// Log the first failure and then every 1024th so a dead disk
		// does not flood stderr.
		if errorCount == 1 || errorCount%1024 == 0 {
			p.logger.Error("store append failed", "error", err, "store_errors", errorCount)
		}
	}
	if p.tail != nil {
		p.tail.Publish(e)
	}
	for _, sink := range p.config.Sinks {
		sink.Consume(e)
	}
	p.consumed.Add(1)
}

func (p *Pipeline) flush() {
	if err := p.store.Flush(); err != nil {
		errorCount := p.storeErrors.Add(1)
		p.logger.Error("store flush failed", "error", err, "store_errors", errorCount)
	}
}

func (p *Pipeline) shutdown() error {
	p.flush()
	storeErr := p.store.Close()
	if storeErr != nil {
		p.storeErrors.Add(1)
		p.logger.Error("closing store failed", "error", storeErr)
	}
	if p.tail != nil {
		p.tail.Close()
	}
	p.logStats()
	p.logger.Info("telemetry pipeline stopped")
	return storeErr
}
