package feeds

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/feedline-io/feedline/internal/core/activity"
	"github.com/feedline-io/feedline/internal/core/storage"
)

// StoreSink lands drained deliveries in the FeedStore. It implements the
// collector's feed, notification and digest sink contracts, so a single
// instance can back all three streams.
//
// Digests are also persisted (under the email stream) so an outbound mailer
// can page through them; actually sending email is outside this repository.
type StoreSink struct {
	store storage.FeedStore
}

func NewStoreSink(store storage.FeedStore) *StoreSink {
	if store == nil {
		panic("feeds: store must not be nil")
	}
	return &StoreSink{store: store}
}

// MaterializeFeedEntry appends one activity to the recipient's feed.
func (s *StoreSink) MaterializeFeedEntry(ctx context.Context, recipientID string, act *activity.Activity) error {
	if err := s.store.AppendFeedEntry(ctx, recipientID, activity.StreamActivity, act); err != nil {
		return fmt.Errorf("append feed entry: %w", err)
	}
	return nil
}

// PushNotification appends one activity to the recipient's notification
// stream.
func (s *StoreSink) PushNotification(ctx context.Context, recipientID string, act *activity.Activity) error {
	if err := s.store.AppendFeedEntry(ctx, recipientID, activity.StreamNotification, act); err != nil {
		return fmt.Errorf("append notification entry: %w", err)
	}
	return nil
}

// QueueDigest records the recipient's batched digest. One call covers the
// whole bucket for that recipient.
func (s *StoreSink) QueueDigest(ctx context.Context, recipientID string, bucketID string, acts []*activity.Activity) error {
	for _, act := range acts {
		if err := s.store.AppendFeedEntry(ctx, recipientID, activity.StreamEmail, act); err != nil {
			return fmt.Errorf("append digest entry: %w", err)
		}
	}

	slog.Info("[Feeds] Queued email digest",
		"recipient_id", recipientID,
		"bucket_id", bucketID,
		"activities", len(acts))
	return nil
}
