package activity

import (
	"time"
)

// Stream identifies a delivery channel for a routed activity.
type Stream string

const (
	StreamActivity     Stream = "activity"
	StreamNotification Stream = "notification"
	StreamEmail        Stream = "email"
)

// Streams lists every delivery channel, in routing order.
var Streams = []Stream{StreamActivity, StreamNotification, StreamEmail}

// ValidStream reports whether s is a known delivery stream.
func ValidStream(s Stream) bool {
	switch s {
	case StreamActivity, StreamNotification, StreamEmail:
		return true
	}
	return false
}

// MemberSet is an ordered set of entity IDs. Insertion order is preserved —
// it is the display order of actors/objects in the rendered activity.
// Add is idempotent, which makes event reprocessing a no-op at the set level.
type MemberSet []string

// Contains reports whether id is already a member.
func (s MemberSet) Contains(id string) bool {
	for _, m := range s {
		if m == id {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every non-empty id is already a member.
func (s MemberSet) ContainsAll(ids ...string) bool {
	for _, id := range ids {
		if id == "" {
			continue
		}
		if !s.Contains(id) {
			return false
		}
	}
	return true
}

// Add appends id if absent. Returns true if the set grew.
// Empty ids are ignored (an event without a target contributes no target).
func (s *MemberSet) Add(id string) bool {
	if id == "" || s.Contains(id) {
		return false
	}
	*s = append(*s, id)
	return true
}

// Clone returns an independent copy. Stored states are cloned before
// mutation so a failed CAS never leaves a half-merged state behind.
func (s MemberSet) Clone() MemberSet {
	if s == nil {
		return nil
	}
	out := make(MemberSet, len(s))
	copy(out, s)
	return out
}

// BackingKind discriminates the three materialization states of an aggregate.
type BackingKind string

const (
	// BackingNone: the aggregate has never materialized an Activity.
	BackingNone BackingKind = "none"
	// BackingActive: the aggregate owns the named live Activity.
	BackingActive BackingKind = "active"
	// BackingOrphaned: the aggregate once owned an Activity that a competing
	// rule's claim has since deleted. Member sets keep growing, but the
	// aggregate produces nothing until it claims an event again.
	BackingOrphaned BackingKind = "orphaned"
)

// Backing is the tagged materialization state of an aggregate. ActivityID is
// meaningful only when Kind is BackingActive; the constructors below are the
// only way call sites should build one.
type Backing struct {
	Kind       BackingKind `json:"kind"`
	ActivityID string      `json:"activity_id,omitempty"`
}

// NoBacking marks an aggregate that has never produced an Activity.
func NoBacking() Backing { return Backing{Kind: BackingNone} }

// ActiveBacking marks an aggregate as owner of the live Activity id.
func ActiveBacking(activityID string) Backing {
	return Backing{Kind: BackingActive, ActivityID: activityID}
}

// OrphanedBacking marks an aggregate as superseded. Its prior Activity is
// gone and is never resurrected.
func OrphanedBacking() Backing { return Backing{Kind: BackingOrphaned} }

// Active reports whether the aggregate currently owns a live Activity.
func (b Backing) Active() bool { return b.Kind == BackingActive }

// AggregateState is the mutable grouping state for one GroupKey.
// It is the only contended shared state in the system; writes go through a
// compare-and-swap on Version.
type AggregateState struct {
	GroupKey string
	RuleName string
	TenantID string
	Verb     string

	Actors  MemberSet
	Objects MemberSet
	Targets MemberSet

	Backing Backing

	// Version is the CAS token. Zero means "never persisted"; the store
	// increments it on every successful put.
	Version int64

	// CreatedAt orders competing live aggregates: when two live aggregates
	// would merge, the earliest-created one keeps its Activity.
	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

// Clone returns a deep copy safe to mutate during a CAS attempt.
func (s *AggregateState) Clone() *AggregateState {
	out := *s
	out.Actors = s.Actors.Clone()
	out.Objects = s.Objects.Clone()
	out.Targets = s.Targets.Clone()
	return &out
}

// Merge folds an event's contribution into the member sets.
// Returns true if any set grew — false means the event was fully contained
// already (the redundant-resubmission case).
func (s *AggregateState) Merge(actorID, objectID, targetID string) bool {
	grew := s.Actors.Add(actorID)
	grew = s.Objects.Add(objectID) || grew
	grew = s.Targets.Add(targetID) || grew
	return grew
}

// Activity is the materialized, deliverable representation of an aggregate.
// It is replace-on-write: folding a new event into its aggregate creates a
// new Activity (next Revision) and deletes this one.
type Activity struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	Verb           string    `json:"verb"`
	ActorIDs       []string  `json:"actor_ids"`
	ObjectIDs      []string  `json:"object_ids"`
	TargetIDs      []string  `json:"target_ids,omitempty"`
	PublishedAt    time.Time `json:"published_at"`
	Revision       int       `json:"revision"`
	SourceGroupKey string    `json:"-"`
}

// DeliveryRecord is one pending (recipient, stream) delivery of an Activity,
// parked in a bucket until a collector drains it. The four-field identity
// (recipient, stream, activity, bucket) is the idempotency key: re-routing
// the same revision to the same recipient/bucket upserts, never duplicates.
type DeliveryRecord struct {
	RecipientID  string
	Stream       Stream
	ActivityID   string
	BucketID     string
	CollectAfter time.Time
	CreatedAt    time.Time
}
