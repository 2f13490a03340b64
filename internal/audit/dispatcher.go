package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultBufferSize   = 1024
	defaultWorkers      = 4
	defaultWriteTimeout = 5 * time.Second
)

// Dispatcher persists entries off the request path. Dispatch never blocks: when
// the queue is full the entry is dropped, logged and counted. Workers drain the
// queue on Close.
type Dispatcher struct {
	appender     Appender
	logger       *slog.Logger
	metrics      *Metrics
	bufferSize   int
	workers      int
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Entry
	wg     sync.WaitGroup
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithDispatcherMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithBuffer sets the queue capacity.
func WithBuffer(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.bufferSize = size
		}
	}
}

// WithWorkers sets how many goroutines persist entries concurrently.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithWriteTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.writeTimeout = timeout
		}
	}
}

// NewDispatcher starts the worker goroutines.
func NewDispatcher(appender Appender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		appender:     appender,
		logger:       slog.Default(),
		bufferSize:   defaultBufferSize,
		workers:      defaultWorkers,
		writeTimeout: defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan Entry, d.bufferSize)
	for range d.workers {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

// Dispatch enqueues entry for persistence and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, entry Entry) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx, entry, "dispatcher closed")
		return
	}
	select {
	case d.queue <- entry:
		d.metrics.SetQueueDepth(len(d.queue))
	default:
		d.drop(ctx, entry, "queue full")
	}
}

func (d *Dispatcher) drop(ctx context.Context, entry Entry, reason string) {
	d.metrics.IncDropped()
	d.logger.WarnContext(ctx, "audit entry dropped",
		"reason", reason,
		"entry_id", entry.ID.String(),
		"action", string(entry.Action),
		"user_id", entry.ActorID.String(),
	)
}

// Close stops accepting entries and waits until queued ones are persisted or
// ctx expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for entry := range d.queue {
		d.metrics.SetQueueDepth(len(d.queue))
		d.persist(entry)
	}
}

// persist writes one entry with a context detached from the originating
// request. Failures and panics stop here.
func (d *Dispatcher) persist(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), d.writeTimeout)
	defer cancel()

	start := time.Now()
	err := d.safeAppend(ctx, entry)
	d.metrics.ObserveWrite(time.Since(start).Seconds())
	if err != nil {
		d.metrics.IncWriteFailures()
		d.logger.ErrorContext(ctx, "failed to persist audit entry",
			"error", err,
			"entry_id", entry.ID.String(),
			"action", string(entry.Action),
			"resource_type", string(entry.ResourceType),
			"user_id", entry.ActorID.String(),
		)
		return
	}
	d.metrics.IncRecorded(entry.Action, entry.StatusCode >= 400)
}

func (d *Dispatcher) safeAppend(ctx context.Context, entry Entry) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("audit appender panicked: %v", p)
		}
	}()
	return d.appender.Append(ctx, entry)
}
