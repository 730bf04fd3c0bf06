// Package router fans a finished activity out to the delivery buckets of all
// eligible recipients. Eligibility is decided here, at delivery time, against
// the live principal directory — never from a snapshot taken when the event
// occurred.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/feedline-io/feedline/internal/api/v1"
	"github.com/feedline-io/feedline/internal/aggregator"
	"github.com/feedline-io/feedline/internal/core/activity"
	"github.com/feedline-io/feedline/internal/core/storage"
	"github.com/feedline-io/feedline/internal/principal"
)

// StreamPolicy restricts which delivery streams a verb may reach.
// The verb registry implements it.
type StreamPolicy interface {
	AllowsStream(verb string, stream activity.Stream) bool
}

// Config sets the time slicing of delivery buckets and the per-verb stream
// restrictions.
type Config struct {
	// BucketSlice is the width of activity/notification/immediate-email
	// bucket windows.
	BucketSlice time.Duration
	// Streams gates each (verb, stream) pair before fan-out. Nil means no
	// restriction.
	Streams StreamPolicy
}

// Router writes per-recipient delivery records for routed activities.
type Router struct {
	directory  principal.Directory
	deliveries storage.DeliveryStore
	cfg        Config
	nowFn      func() time.Time
}

// New creates a Router over the live principal directory.
func New(directory principal.Directory, deliveries storage.DeliveryStore, cfg Config) *Router {
	if cfg.BucketSlice <= 0 {
		cfg.BucketSlice = 5 * time.Minute
	}
	return &Router{
		directory:  directory,
		deliveries: deliveries,
		cfg:        cfg,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// Route evaluates every (candidate recipient, stream) pair for the result's
// activity and parks a delivery record for each pair that passes the live
// visibility checks. Failed checks drop the pair silently — suppression is
// expected behavior, not an error.
func (r *Router) Route(ctx context.Context, res *aggregator.Result) error {
	act := res.Activity
	if act == nil {
		return nil
	}

	now := r.nowFn()
	written := 0

	for _, recipientID := range res.Candidates {
		eligible, err := r.eligible(ctx, recipientID, act)
		if err != nil {
			return fmt.Errorf("evaluate recipient %s: %w", recipientID, err)
		}
		if !eligible {
			continue
		}

		for _, stream := range activity.Streams {
			if r.cfg.Streams != nil && !r.cfg.Streams.AllowsStream(act.Verb, stream) {
				continue
			}

			slot, err := r.slotFor(ctx, recipientID, stream, now)
			if err != nil {
				return fmt.Errorf("bucket slot for %s/%s: %w", recipientID, stream, err)
			}

			rec := &activity.DeliveryRecord{
				RecipientID:  recipientID,
				Stream:       stream,
				ActivityID:   act.ID,
				BucketID:     slot.ID,
				CollectAfter: slot.CollectAfter,
				CreatedAt:    now,
			}
			if err := r.deliveries.UpsertDelivery(ctx, rec); err != nil {
				return fmt.Errorf("park delivery for %s/%s: %w", recipientID, stream, err)
			}
			written++
		}
	}

	slog.Info("[Router] Routed activity",
		"activity_id", act.ID,
		"candidates", len(res.Candidates),
		"deliveries", written)
	return nil
}

// eligible re-evaluates, right now, whether the recipient may see every
// principal the activity references. Any failed check suppresses the
// delivery; history is never rewritten, only future deliveries stop.
func (r *Router) eligible(ctx context.Context, recipientID string, act *activity.Activity) (bool, error) {
	recipientTenant, err := r.directory.TenantOf(ctx, recipientID)
	if err != nil {
		return false, err
	}

	principals := make([]string, 0, len(act.ActorIDs)+len(act.ObjectIDs)+len(act.TargetIDs))
	principals = append(principals, act.ActorIDs...)
	principals = append(principals, act.ObjectIDs...)
	principals = append(principals, act.TargetIDs...)

	for _, id := range principals {
		if id == recipientID {
			continue // principals always see activity about themselves
		}

		ok, err := r.mayView(ctx, recipientID, recipientTenant, id)
		if err != nil {
			return false, err
		}
		if !ok {
			slog.Debug("[Router] Delivery suppressed by visibility",
				"recipient_id", recipientID,
				"principal_id", id,
				"activity_id", act.ID)
			return false, nil
		}
	}

	return true, nil
}

func (r *Router) mayView(ctx context.Context, recipientID, recipientTenant, principalID string) (bool, error) {
	vis, err := r.directory.CurrentVisibility(ctx, principalID)
	if err != nil {
		return false, err
	}

	principalTenant, err := r.directory.TenantOf(ctx, principalID)
	if err != nil {
		return false, err
	}

	sameTenant := principalTenant == recipientTenant

	switch vis {
	case principal.VisibilityPublic:
		// Public principals are visible anywhere, including across tenants.
		return true, nil

	case principal.VisibilityLoggedIn:
		// Visible to authenticated users of the same or a federated tenant;
		// never across unfederated tenant boundaries.
		if sameTenant {
			return true, nil
		}
		return r.directory.IsSameOrFederatedTenant(ctx, principalTenant, recipientTenant)

	case principal.VisibilityPrivate:
		// Only the principal's own accepted followers, same tenant only.
		if !sameTenant {
			return false, nil
		}
		return r.directory.IsFollowerOf(ctx, recipientID, principalID)

	default:
		return false, fmt.Errorf("unknown visibility %q for principal %s", vis, principalID)
	}
}

// slotFor picks the delivery bucket: plain time slices for feeds and
// notifications, preference-sliced slots for email.
func (r *Router) slotFor(ctx context.Context, recipientID string, stream activity.Stream, now time.Time) (activity.BucketSlot, error) {
	if stream != activity.StreamEmail {
		return activity.StreamSlot(stream, now, r.cfg.BucketSlice), nil
	}

	sched, err := r.directory.EmailScheduleOf(ctx, recipientID)
	if err != nil {
		return activity.BucketSlot{}, err
	}
	if !activity.ValidEmailPreference(sched.Preference) {
		sched.Preference = activity.EmailImmediate
	}
	return activity.EmailSlot(sched.Preference, now, r.cfg.BucketSlice, sched.Hour, sched.Weekday), nil
}

// DirectoryResolver derives candidate recipients from an event using the
// principal directory: the actor's followers, the object principal and its
// followers, and the members of a target group. It implements
// aggregator.RecipientResolver.
type DirectoryResolver struct {
	directory principal.Directory
}

// NewDirectoryResolver creates the directory-backed recipient resolver.
func NewDirectoryResolver(directory principal.Directory) *DirectoryResolver {
	return &DirectoryResolver{directory: directory}
}

// CandidateRecipients enumerates who might care about the event. The router
// gates the list with live visibility checks afterwards; over-enumeration
// here is harmless, omission is not.
func (d *DirectoryResolver) CandidateRecipients(ctx context.Context, evt *v1.Event) ([]string, error) {
	var out []string

	// The actor's own feed always carries their activity.
	out = append(out, evt.ActorID)

	followers, err := d.directory.FollowersOf(ctx, evt.ActorID)
	if err != nil {
		return nil, fmt.Errorf("followers of %s: %w", evt.ActorID, err)
	}
	out = append(out, followers...)

	// The acted-on principal and its followers (a followed user sees who
	// followed them; a document's followers see it being shared).
	out = append(out, evt.ObjectID)
	objectFollowers, err := d.directory.FollowersOf(ctx, evt.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("followers of %s: %w", evt.ObjectID, err)
	}
	out = append(out, objectFollowers...)

	if evt.TargetID != "" {
		members, err := d.directory.MembersOf(ctx, evt.TargetID)
		if err != nil {
			return nil, fmt.Errorf("members of %s: %w", evt.TargetID, err)
		}
		out = append(out, members...)
	}

	return out, nil
}
