package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/feedline-io/feedline/internal/api/v1"
	"github.com/feedline-io/feedline/internal/core/partition"
	"github.com/feedline-io/feedline/internal/core/storage"
)

const (
	defaultBatchSize = 500
	// checkpointConsumer names this worker's cursor in the queue.
	checkpointConsumer = "aggregator"
)

// Router receives each finished aggregation result for fan-out.
type Router interface {
	Route(ctx context.Context, res *Result) error
}

// Worker drains the ingest queue on a periodic interval and runs each event
// through the aggregation pipeline. It is stateless across ticks: each tick
// independently reads events after the durable checkpoint.
//
// Redelivery is the checkpoint not advancing — any failure leaves the cursor
// where it was, and the next tick reprocesses from there. Reprocessing an
// already-applied event mutates no aggregate and re-routes its live activity,
// so a fan-out lost to a transient routing error is recovered on the next
// tick instead of dropped.
type Worker struct {
	interval  time.Duration
	queue     storage.EventQueue
	engine    *Aggregator
	router    Router
	batchSize int

	// consumer names this worker's checkpoint cursor; sharded workers each
	// keep their own.
	consumer string
	// owns filters events by tenant partition. Nil means the worker owns
	// every partition (the single-worker deployment).
	owns func(tenantID string) bool
}

// NewWorker creates the queue-draining aggregation worker. It owns every
// tenant partition.
func NewWorker(interval time.Duration, queue storage.EventQueue, engine *Aggregator, router Router, batchSize int) *Worker {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Worker{
		interval:  interval,
		queue:     queue,
		engine:    engine,
		router:    router,
		batchSize: batchSize,
		consumer:  checkpointConsumer,
	}
}

// NewShardedWorker creates a worker that only processes events whose tenant
// partition hashes to this shard. Each shard keeps its own checkpoint cursor,
// so shards drain the shared queue independently. Sharding keeps per-group-key
// processing single-writer (group keys embed the tenant); the CAS on aggregate
// writes still protects against an imperfect shard split.
func NewShardedWorker(interval time.Duration, queue storage.EventQueue, engine *Aggregator, router Router, batchSize, shard, shardCount int) *Worker {
	w := NewWorker(interval, queue, engine, router, batchSize)
	if shardCount <= 1 {
		return w
	}
	w.consumer = fmt.Sprintf("%s-%d-of-%d", checkpointConsumer, shard, shardCount)
	w.owns = func(tenantID string) bool {
		return partition.For(tenantID)%shardCount == shard
	}
	return w
}

// Start begins periodic queue draining. Runs until context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("[Worker] Starting aggregation worker",
		"interval", w.interval,
		"batch_size", w.batchSize,
		"consumer", w.consumer)

	// Initial drain to catch up with any backlog.
	w.drainBacklog(ctx)

	for {
		select {
		case <-ticker.C:
			w.drainBacklog(ctx)
		case <-ctx.Done():
			slog.Info("[Worker] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Worker] Running final drain before shutdown...")
			w.drainBacklog(shutdownCtx)
			slog.Info("[Worker] Final drain complete")

			return nil
		}
	}
}

// drainBacklog processes pending events in batches until the backlog is
// empty. Bounded so a burst can never wedge the tick loop.
func (w *Worker) drainBacklog(ctx context.Context) {
	const maxConsecutiveBatches = 100

	for batch := 0; batch < maxConsecutiveBatches; batch++ {
		select {
		case <-ctx.Done():
			slog.Info("[Worker] Drain interrupted by context cancellation", "batches_processed", batch)
			return
		default:
		}

		processed, err := w.runBatch(ctx)
		if err != nil {
			slog.Error("[Worker] Batch processing failed", "error", err, "batch_number", batch+1)
			return
		}

		if processed < w.batchSize {
			return
		}
	}

	slog.Warn("[Worker] Max consecutive batches reached, pausing drain",
		"note", "will resume on next tick")
}

// runBatch processes one batch of events after the checkpoint and returns the
// number of events it consumed. The checkpoint advances per event, only past
// events that fully processed (aggregation and routing both applied).
func (w *Worker) runBatch(ctx context.Context) (int, error) {
	cursor, err := w.queue.ReadCheckpoint(ctx, w.consumer)
	if err != nil {
		return 0, fmt.Errorf("read checkpoint: %w", err)
	}

	events, err := w.queue.DequeueAfter(ctx, cursor, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("dequeue events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	slog.Debug("[Worker] Processing events", "count", len(events), "from_cursor", cursor)

	for _, evt := range events {
		if err := w.processEvent(ctx, evt); err != nil {
			// Leave the checkpoint at the last fully-processed event; the
			// queue redelivers from there on the next batch.
			return 0, err
		}

		if err := w.queue.AdvanceCheckpoint(ctx, w.consumer, evt.IngestSeq); err != nil {
			return 0, fmt.Errorf("advance checkpoint: %w", err)
		}
	}

	return len(events), nil
}

func (w *Worker) processEvent(ctx context.Context, evt *v1.Event) error {
	if w.owns != nil && !w.owns(evt.TenantID) {
		// Another shard's event; its cursor moves past it without touching
		// the aggregate.
		return nil
	}

	if err := evt.Validate(); err != nil {
		// Structurally invalid events can never aggregate; retrying is
		// pointless. Drop, log, move on.
		slog.Warn("[Worker] Dropping invalid event",
			"event_id", evt.ID,
			"ingest_seq", evt.IngestSeq,
			"error", err)
		return nil
	}

	res, err := w.engine.ProcessEvent(ctx, evt)
	if err != nil {
		return fmt.Errorf("aggregate event %s: %w", evt.ID, err)
	}

	if res.Activity == nil {
		// No grouping rule covers the verb; nothing to represent or deliver.
		return nil
	}

	if err := w.router.Route(ctx, res); err != nil {
		return fmt.Errorf("route activity %s: %w", res.Activity.ID, err)
	}

	return nil
}
