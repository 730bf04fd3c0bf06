package collector

import (
	"context"

	"github.com/feedline-io/feedline/internal/core/activity"
)

// FeedSink materializes a drained activity into a recipient's feed.
// Contract: idempotent per (recipient, activity, revision) — a re-drain after
// a partial collection must not duplicate entries.
type FeedSink interface {
	MaterializeFeedEntry(ctx context.Context, recipientID string, act *activity.Activity) error
}

// NotificationSink pushes a drained activity into a recipient's notification
// stream. Same idempotence contract as FeedSink.
type NotificationSink interface {
	PushNotification(ctx context.Context, recipientID string, act *activity.Activity) error
}

// DigestSink receives one batched digest per recipient per collection pass:
// every email-stream activity for that recipient in the drained bucket, in
// one call. One digest email per recipient per pass, never one per activity.
type DigestSink interface {
	QueueDigest(ctx context.Context, recipientID string, bucketID string, acts []*activity.Activity) error
}

// Sinks bundles the three consumers of drained buckets.
type Sinks struct {
	Feed         FeedSink
	Notification NotificationSink
	Digest       DigestSink
}
