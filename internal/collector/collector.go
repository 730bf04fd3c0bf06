// Package collector drains time-sliced buckets of pending deliveries into
// durable feed entries, notifications and email digests.
//
// Each bucket moves Pending → Collecting → Drained. Collecting is the lease
// being held; Drained is every record handed to its sink and deleted. A
// failure mid-drain releases the lease with records remaining, which is
// simply Pending again — partial progress is safe because each record's
// sink hand-off and delete are individually idempotent.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedline-io/feedline/internal/core/activity"
	"github.com/feedline-io/feedline/internal/core/storage"
)

const (
	defaultLeaseTTL    = 2 * time.Minute
	defaultBucketLimit = 50
	defaultRecordLimit = 5000
)

// Observer receives synchronous notification of drained buckets.
type Observer interface {
	OnBucketDrained(bucketID string, records int)
}

// Config tunes a collection pass.
type Config struct {
	// LeaseTTL bounds how long a crashed collector can hold a bucket.
	LeaseTTL time.Duration
	// BucketLimit caps how many buckets one pass touches.
	BucketLimit int
	// RecordLimit caps how many records are read from a bucket at once.
	RecordLimit int
}

func (c Config) normalized() Config {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.BucketLimit <= 0 {
		c.BucketLimit = defaultBucketLimit
	}
	if c.RecordLimit <= 0 {
		c.RecordLimit = defaultRecordLimit
	}
	return c
}

// Collector turns pending delivery records into feed entries, notifications
// and digest rows, one bucket at a time, under a bucket lease.
type Collector struct {
	deliveries storage.DeliveryStore
	activities storage.ActivityStore
	lease      Lease
	sinks      Sinks
	cfg        Config
	observers  []Observer

	nowFn func() time.Time
}

// New creates a Collector.
func New(deliveries storage.DeliveryStore, activities storage.ActivityStore, lease Lease, sinks Sinks, cfg Config, observers ...Observer) *Collector {
	return &Collector{
		deliveries: deliveries,
		activities: activities,
		lease:      lease,
		sinks:      sinks,
		cfg:        cfg.normalized(),
		observers:  observers,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// CollectOnce runs one sweep: every bucket whose wall-clock slot has elapsed
// is drained. Lease contention on a bucket is not an error — another
// collector has it; skip and let the next sweep retry.
func (c *Collector) CollectOnce(ctx context.Context) error {
	now := c.nowFn()

	buckets, err := c.deliveries.ListCollectableBuckets(ctx, now, c.cfg.BucketLimit)
	if err != nil {
		return fmt.Errorf("list collectable buckets: %w", err)
	}
	if len(buckets) == 0 {
		return nil
	}

	slog.Debug("[Collector] Sweep found collectable buckets", "count", len(buckets))

	for _, bucketID := range buckets {
		if err := c.CollectBucket(ctx, bucketID); err != nil {
			if errors.Is(err, ErrLeaseHeld) {
				slog.Debug("[Collector] Bucket busy, skipping", "bucket_id", bucketID)
				continue
			}
			// Leave the rest of the sweep to the next tick; the failed
			// bucket reverted to pending.
			return fmt.Errorf("collect bucket %s: %w", bucketID, err)
		}
	}

	return nil
}

// CollectBucket drains one bucket under its lease. Returns ErrLeaseHeld when
// another collector holds it.
func (c *Collector) CollectBucket(ctx context.Context, bucketID string) error {
	release, err := c.lease.Acquire(ctx, bucketID, c.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("[Collector] Failed to release bucket lease", "bucket_id", bucketID, "error", err)
		}
	}()

	drained := 0
	for {
		records, err := c.deliveries.ListBucket(ctx, bucketID, c.cfg.RecordLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			break
		}

		n, err := c.drainRecords(ctx, bucketID, records)
		drained += n
		if err != nil {
			return err
		}

		if len(records) < c.cfg.RecordLimit {
			break
		}
	}

	for _, o := range c.observers {
		o.OnBucketDrained(bucketID, drained)
	}

	slog.Info("[Collector] Drained bucket", "bucket_id", bucketID, "records", drained)
	return nil
}

// drainRecords hands one page of records to their sinks. Feed and
// notification records are handled one by one (sink then delete, so a crash
// re-drains idempotently). Email records are grouped so each recipient gets
// exactly one digest covering the whole bucket.
func (c *Collector) drainRecords(ctx context.Context, bucketID string, records []*activity.DeliveryRecord) (int, error) {
	acts := make(map[string]*activity.Activity)

	// Per-recipient email grouping, insertion-ordered for determinism.
	emailByRecipient := make(map[string][]*activity.DeliveryRecord)
	var emailRecipients []string

	drained := 0

	for _, rec := range records {
		act, err := c.resolveActivity(ctx, acts, rec.ActivityID)
		if err != nil {
			return drained, err
		}
		if act == nil {
			// The activity was superseded after routing; its replacement has
			// its own delivery records. Drop the stale one.
			if err := c.deliveries.DeleteDelivery(ctx, rec); err != nil {
				return drained, err
			}
			drained++
			continue
		}

		switch rec.Stream {
		case activity.StreamActivity:
			if err := c.sinks.Feed.MaterializeFeedEntry(ctx, rec.RecipientID, act); err != nil {
				return drained, fmt.Errorf("feed sink for %s: %w", rec.RecipientID, err)
			}
			if err := c.deliveries.DeleteDelivery(ctx, rec); err != nil {
				return drained, err
			}
			drained++

		case activity.StreamNotification:
			if err := c.sinks.Notification.PushNotification(ctx, rec.RecipientID, act); err != nil {
				return drained, fmt.Errorf("notification sink for %s: %w", rec.RecipientID, err)
			}
			if err := c.deliveries.DeleteDelivery(ctx, rec); err != nil {
				return drained, err
			}
			drained++

		case activity.StreamEmail:
			if _, seen := emailByRecipient[rec.RecipientID]; !seen {
				emailRecipients = append(emailRecipients, rec.RecipientID)
			}
			emailByRecipient[rec.RecipientID] = append(emailByRecipient[rec.RecipientID], rec)

		default:
			slog.Warn("[Collector] Dropping record with unknown stream",
				"bucket_id", bucketID,
				"stream", rec.Stream)
			if err := c.deliveries.DeleteDelivery(ctx, rec); err != nil {
				return drained, err
			}
			drained++
		}
	}

	for _, recipientID := range emailRecipients {
		recs := emailByRecipient[recipientID]

		batch := make([]*activity.Activity, 0, len(recs))
		for _, rec := range recs {
			batch = append(batch, acts[rec.ActivityID])
		}

		if err := c.sinks.Digest.QueueDigest(ctx, recipientID, bucketID, batch); err != nil {
			return drained, fmt.Errorf("digest sink for %s: %w", recipientID, err)
		}
		for _, rec := range recs {
			if err := c.deliveries.DeleteDelivery(ctx, rec); err != nil {
				return drained, err
			}
			drained++
		}
	}

	return drained, nil
}

// resolveActivity loads an activity once per drain, caching hits and misses.
// Returns (nil, nil) when the activity no longer exists.
func (c *Collector) resolveActivity(ctx context.Context, cache map[string]*activity.Activity, id string) (*activity.Activity, error) {
	if act, ok := cache[id]; ok {
		return act, nil
	}

	act, err := c.activities.GetActivity(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		cache[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load activity %s: %w", id, err)
	}

	cache[id] = act
	return act, nil
}
