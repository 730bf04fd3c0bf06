package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/feedline-io/feedline/internal/api/v1"
	"github.com/feedline-io/feedline/internal/core/activity"
)

// ErrDuplicate is returned when an event with the same (tenant_id, id) has
// already been enqueued.
var ErrDuplicate = errors.New("event already exists")

// ErrNotFound is returned for point lookups that match nothing. For aggregate
// lookups the caller treats it as "create new".
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a compare-and-swap write loses to a concurrent
// writer. The caller retries the whole per-event aggregation step.
var ErrConflict = errors.New("concurrent modification")

// EventQueue is the durable, at-least-once ingest queue: an append-only event
// log plus a per-consumer checkpoint cursor. Redelivery is simply not
// advancing the cursor.
type EventQueue interface {
	// Enqueue persists an event and populates its IngestSeq.
	// Returns ErrDuplicate if (tenant_id, id) was already enqueued.
	Enqueue(ctx context.Context, event *v1.Event) error

	// DequeueAfter fetches events after a cursor (ingest_seq) in strict total
	// order. cursor=0 means "from the beginning".
	DequeueAfter(ctx context.Context, cursor int64, limit int) ([]*v1.Event, error)

	// ReadCheckpoint returns the named consumer's cursor, 0 if none yet.
	ReadCheckpoint(ctx context.Context, consumer string) (int64, error)

	// AdvanceCheckpoint moves the named consumer's cursor forward. Stale
	// writes (cursor <= current) are ignored, keeping the cursor monotonic.
	AdvanceCheckpoint(ctx context.Context, consumer string, cursor int64) error
}

// ActivityStore is the append-create / hard-delete store for materialized
// activities. The aggregator is the only writer.
type ActivityStore interface {
	CreateActivity(ctx context.Context, act *activity.Activity) error

	// DeleteActivity removes a superseded activity. Deleting an id that is
	// already gone is not an error — crash recovery may retry the delete.
	DeleteActivity(ctx context.Context, id string) error

	// GetActivity returns ErrNotFound for unknown ids.
	GetActivity(ctx context.Context, id string) (*activity.Activity, error)
}

// AggregateStore is the point-lookup/point-write index of aggregate states
// keyed by group key. Writes are compare-and-swap: single-writer-per-key is
// the intended deployment, but the contract stays safe under violation.
type AggregateStore interface {
	// GetAggregateState returns ErrNotFound for an unseen group key.
	GetAggregateState(ctx context.Context, groupKey string) (*activity.AggregateState, error)

	// PutAggregateState writes the state if state.Version still matches the
	// stored version (0 means "must not exist yet"). On success the state's
	// Version is advanced; on a lost race it returns ErrConflict.
	PutAggregateState(ctx context.Context, state *activity.AggregateState) error
}

// DeliveryStore holds pending per-recipient deliveries, bucketed for
// collection. Written by the router, drained record-by-record by the
// collector.
type DeliveryStore interface {
	// UpsertDelivery is idempotent per (recipient, stream, activity, bucket).
	UpsertDelivery(ctx context.Context, rec *activity.DeliveryRecord) error

	// ListCollectableBuckets returns distinct bucket ids whose wall-clock
	// slot has elapsed (collect_after <= now), oldest first.
	ListCollectableBuckets(ctx context.Context, now time.Time, limit int) ([]string, error)

	// ListBucket returns the pending records of one bucket, oldest first.
	ListBucket(ctx context.Context, bucketID string, limit int) ([]*activity.DeliveryRecord, error)

	// DeleteDelivery removes one drained record. Deleting an already-deleted
	// record is not an error (collector retries after partial drains).
	DeleteDelivery(ctx context.Context, rec *activity.DeliveryRecord) error
}

// FeedStore is the materialized read side: durable feed/notification entries
// written by the collector's sinks and served by the feeds API.
type FeedStore interface {
	// AppendFeedEntry is idempotent per (recipient, stream, activity,
	// revision) — re-drains after a partial collection never duplicate
	// entries.
	AppendFeedEntry(ctx context.Context, recipientID string, stream activity.Stream, act *activity.Activity) error

	// ListFeed returns a recipient's entries, newest first.
	ListFeed(ctx context.Context, recipientID string, stream activity.Stream, limit, offset int) ([]*activity.Activity, error)
}
