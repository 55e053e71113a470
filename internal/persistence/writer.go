package persistence

import (
	"context"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/careerhub/internal/activity"
	"github.com/spigell/careerhub/internal/logger"
	"github.com/spigell/careerhub/internal/metrics"
	"github.com/spigell/careerhub/internal/stats"
)

const (
	opAppendActivity   = "append_activity"
	opIncrementCounter = "increment_counter"
)

// WriterConfig tunes the asynchronous writer.
type WriterConfig struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

type task struct {
	op       string
	identity string
	update   Update
}

// Writer performs best-effort durable writes off the caller's goroutine.
//
// Writes for the same identity always go to the same worker, so they are
// applied in submission order. When a worker queue is full the write is
// dropped and logged rather than blocking the caller.
type Writer struct {
	store   UserStore
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	shards []chan task
	wg     sync.WaitGroup
}

func NewWriter(store UserStore, cfg WriterConfig, log *zap.Logger) *Writer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	shards := make([]chan task, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan task, cfg.QueueSize)
	}

	return &Writer{
		store:   store,
		timeout: cfg.Timeout,
		logger:  logger.Component(log, "persistence"),
		shards:  shards,
	}
}

// Start launches the workers. Writes already queued when ctx is cancelled
// are still attempted by Stop.
func (w *Writer) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for _, shard := range w.shards {
		w.wg.Add(1)
		go w.work(base, shard)
	}
}

// Stop refuses new writes and waits for the queued ones to finish.
func (w *Writer) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	for _, shard := range w.shards {
		close(shard)
	}
	w.mu.Unlock()

	w.wg.Wait()
}

// AppendActivity queues entry to be prepended to the identity's record.
func (w *Writer) AppendActivity(identity string, entry activity.Entry) {
	w.enqueue(task{
		op:       opAppendActivity,
		identity: identity,
		update:   Update{Prepend: []activity.Entry{entry}},
	})
}

// IncrementCounter queues a counter increment for the identity's record.
func (w *Writer) IncrementCounter(identity string, metric stats.Metric, amount int) {
	w.enqueue(task{
		op:       opIncrementCounter,
		identity: identity,
		update:   Update{Increments: map[stats.Metric]int{metric: amount}},
	})
}

// Pending returns the number of queued writes.
func (w *Writer) Pending() int {
	n := 0
	for _, shard := range w.shards {
		n += len(shard)
	}
	return n
}

func (w *Writer) enqueue(t task) {
	t.identity = stats.CanonicalIdentity(t.identity)
	if t.identity == "" || t.identity == stats.AnonymousIdentity {
		return
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.drop(t, "writer stopped")
		return
	}

	select {
	case w.shards[w.shardFor(t.identity)] <- t:
	default:
		w.drop(t, "queue full")
	}
}

func (w *Writer) shardFor(identity string) int {
	h := fnv.New32a()
	h.Write([]byte(identity))
	return int(h.Sum32() % uint32(len(w.shards)))
}

func (w *Writer) drop(t task, reason string) {
	metrics.PersistenceWrites.WithLabelValues(t.op, "dropped").Inc()
	w.logger.Warn("dropping durable write",
		zap.String("op", t.op),
		zap.String(logger.FieldIdentity, t.identity),
		zap.String("reason", reason),
	)
}

func (w *Writer) work(ctx context.Context, shard <-chan task) {
	defer w.wg.Done()
	for t := range shard {
		w.execute(ctx, t)
	}
}

func (w *Writer) execute(parent context.Context, t task) {
	ctx, cancel := context.WithTimeout(parent, w.timeout)
	defer cancel()

	timer := metrics.NewTimer()
	err := w.apply(ctx, t)
	timer.ObserveDurationVec(metrics.PersistenceLatency, t.op)

	if err != nil {
		metrics.PersistenceWrites.WithLabelValues(t.op, "error").Inc()
		w.logger.Error("durable write failed",
			zap.String("op", t.op),
			zap.String(logger.FieldIdentity, t.identity),
			zap.Error(err),
		)
		return
	}
	metrics.PersistenceWrites.WithLabelValues(t.op, "ok").Inc()
}

func (w *Writer) apply(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic in %s: %v\n%s", ErrPersistence, t.op, r, debug.Stack())
		}
	}()

	if _, err := w.store.Apply(ctx, t.identity, t.update); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersistence, t.op, err)
	}
	return nil
}
