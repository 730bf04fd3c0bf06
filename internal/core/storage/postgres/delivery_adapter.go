package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedline-io/feedline/internal/core/activity"
)

// DeliveryAdapter implements storage.DeliveryStore and storage.FeedStore on
// PostgreSQL. Delivery records are write-once/delete-once; feed entries are
// the durable materialized read side.
type DeliveryAdapter struct {
	db *sql.DB
}

// NewDeliveryAdapter creates a new DeliveryAdapter sharing the given connection.
func NewDeliveryAdapter(db *sql.DB) *DeliveryAdapter {
	return &DeliveryAdapter{db: db}
}

// UpsertDelivery parks one pending delivery in its bucket. Idempotent per
// (recipient, stream, activity, bucket).
func (a *DeliveryAdapter) UpsertDelivery(ctx context.Context, rec *activity.DeliveryRecord) error {
	if _, err := a.db.ExecContext(ctx, queryUpsertDelivery,
		rec.RecipientID,
		string(rec.Stream),
		rec.ActivityID,
		rec.BucketID,
		rec.CollectAfter,
		rec.CreatedAt,
	); err != nil {
		return fmt.Errorf("upsert delivery %s/%s/%s: %w", rec.RecipientID, rec.Stream, rec.ActivityID, err)
	}
	return nil
}

// ListCollectableBuckets returns distinct bucket ids whose wall-clock slot
// has elapsed, oldest slot first.
func (a *DeliveryAdapter) ListCollectableBuckets(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, queryListCollectableBuckets, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list collectable buckets: %w", err)
	}
	defer rows.Close()

	var buckets []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list collectable buckets: scan row: %w", err)
		}
		buckets = append(buckets, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list collectable buckets: iterate rows: %w", err)
	}

	return buckets, nil
}

// ListBucket returns the pending records of one bucket, oldest first.
func (a *DeliveryAdapter) ListBucket(ctx context.Context, bucketID string, limit int) ([]*activity.DeliveryRecord, error) {
	rows, err := a.db.QueryContext(ctx, queryListBucket, bucketID, limit)
	if err != nil {
		return nil, fmt.Errorf("list bucket %s: %w", bucketID, err)
	}
	defer rows.Close()

	var records []*activity.DeliveryRecord
	for rows.Next() {
		var rec activity.DeliveryRecord
		var stream string
		if err := rows.Scan(
			&rec.RecipientID,
			&stream,
			&rec.ActivityID,
			&rec.BucketID,
			&rec.CollectAfter,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("list bucket %s: scan row: %w", bucketID, err)
		}
		rec.Stream = activity.Stream(stream)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bucket %s: iterate rows: %w", bucketID, err)
	}

	return records, nil
}

// DeleteDelivery removes one drained record. Deleting an already-deleted
// record is a no-op so the collector can retry partial drains.
func (a *DeliveryAdapter) DeleteDelivery(ctx context.Context, rec *activity.DeliveryRecord) error {
	if _, err := a.db.ExecContext(ctx, queryDeleteDelivery,
		rec.RecipientID,
		string(rec.Stream),
		rec.ActivityID,
		rec.BucketID,
	); err != nil {
		return fmt.Errorf("delete delivery %s/%s/%s: %w", rec.RecipientID, rec.Stream, rec.ActivityID, err)
	}
	return nil
}

// AppendFeedEntry materializes an activity into the recipient's durable feed.
// Idempotent per (recipient, stream, activity, revision).
func (a *DeliveryAdapter) AppendFeedEntry(ctx context.Context, recipientID string, stream activity.Stream, act *activity.Activity) error {
	actorIDs, err := marshalIDs(act.ActorIDs)
	if err != nil {
		return fmt.Errorf("append feed entry: %w", err)
	}
	objectIDs, err := marshalIDs(act.ObjectIDs)
	if err != nil {
		return fmt.Errorf("append feed entry: %w", err)
	}
	targetIDs, err := marshalIDs(act.TargetIDs)
	if err != nil {
		return fmt.Errorf("append feed entry: %w", err)
	}

	if _, err := a.db.ExecContext(ctx, queryAppendFeedEntry,
		recipientID,
		string(stream),
		act.ID,
		act.Revision,
		act.TenantID,
		act.Verb,
		actorIDs,
		objectIDs,
		targetIDs,
		act.PublishedAt,
		time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("append feed entry %s/%s: %w", recipientID, act.ID, err)
	}

	slog.Debug("[Postgres] Appended feed entry",
		"recipient_id", recipientID,
		"stream", stream,
		"activity_id", act.ID,
		"revision", act.Revision)
	return nil
}

// ListFeed returns a recipient's materialized entries, newest first.
func (a *DeliveryAdapter) ListFeed(ctx context.Context, recipientID string, stream activity.Stream, limit, offset int) ([]*activity.Activity, error) {
	rows, err := a.db.QueryContext(ctx, queryListFeed, recipientID, string(stream), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list feed %s/%s: %w", recipientID, stream, err)
	}
	defer rows.Close()

	var activities []*activity.Activity
	for rows.Next() {
		var act activity.Activity
		var actorIDs, objectIDs, targetIDs []byte
		if err := rows.Scan(
			&act.ID,
			&act.Revision,
			&act.TenantID,
			&act.Verb,
			&actorIDs,
			&objectIDs,
			&targetIDs,
			&act.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("list feed %s/%s: scan row: %w", recipientID, stream, err)
		}
		if act.ActorIDs, err = unmarshalIDs(actorIDs); err != nil {
			return nil, fmt.Errorf("list feed %s/%s: %w", recipientID, stream, err)
		}
		if act.ObjectIDs, err = unmarshalIDs(objectIDs); err != nil {
			return nil, fmt.Errorf("list feed %s/%s: %w", recipientID, stream, err)
		}
		if act.TargetIDs, err = unmarshalIDs(targetIDs); err != nil {
			return nil, fmt.Errorf("list feed %s/%s: %w", recipientID, stream, err)
		}
		activities = append(activities, &act)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list feed %s/%s: iterate rows: %w", recipientID, stream, err)
	}

	return activities, nil
}
