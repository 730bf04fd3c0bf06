package activity

import (
	"fmt"
	"time"
)

// EmailPreference is a recipient's digest cadence.
type EmailPreference string

const (
	EmailImmediate EmailPreference = "immediate"
	EmailDaily     EmailPreference = "daily"
	EmailWeekly    EmailPreference = "weekly"
)

// ValidEmailPreference reports whether p is a known digest cadence.
func ValidEmailPreference(p EmailPreference) bool {
	switch p {
	case EmailImmediate, EmailDaily, EmailWeekly:
		return true
	}
	return false
}

// BucketSlot addresses one collectable partition of pending deliveries.
// CollectAfter is when the slot's wall-clock window has elapsed; a scheduled
// sweep only ever touches buckets whose CollectAfter has passed.
type BucketSlot struct {
	ID           string
	CollectAfter time.Time
}

const bucketTimeLayout = "20060102T150405Z"

// StreamSlot computes the bucket for activity/notification deliveries:
// a plain time slice. Records in the slice become collectable when the
// slice ends.
func StreamSlot(stream Stream, now time.Time, slice time.Duration) BucketSlot {
	start := now.UTC().Truncate(slice)
	return BucketSlot{
		ID:           fmt.Sprintf("%s:%s", stream, start.Format(bucketTimeLayout)),
		CollectAfter: start.Add(slice),
	}
}

// EmailSlot computes the bucket for email deliveries, sliced by the
// recipient's digest preference:
//
//	immediate — same time slicing as the other streams
//	daily     — one bucket per (hour-of-day, date); collectable at that hour
//	weekly    — one bucket per (weekday, hour, week); collectable then
//
// dailyHour/weeklyDay come from the recipient's preferences. Deliveries
// written after the slot's hour on a given day roll into the next
// occurrence, so a sweep never races its own bucket.
func EmailSlot(pref EmailPreference, now time.Time, slice time.Duration, dailyHour int, weeklyDay time.Weekday) BucketSlot {
	now = now.UTC()

	switch pref {
	case EmailDaily:
		next := time.Date(now.Year(), now.Month(), now.Day(), dailyHour, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return BucketSlot{
			ID:           fmt.Sprintf("email:daily:h%02d:%s", dailyHour, next.Format("20060102")),
			CollectAfter: next,
		}

	case EmailWeekly:
		next := time.Date(now.Year(), now.Month(), now.Day(), dailyHour, 0, 0, 0, time.UTC)
		for next.Weekday() != weeklyDay || !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return BucketSlot{
			ID:           fmt.Sprintf("email:weekly:%s-h%02d:%s", weeklyDay, dailyHour, next.Format("20060102")),
			CollectAfter: next,
		}

	default: // immediate
		start := now.Truncate(slice)
		return BucketSlot{
			ID:           fmt.Sprintf("email:immediate:%s", start.Format(bucketTimeLayout)),
			CollectAfter: start.Add(slice),
		}
	}
}
