package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	v1 "github.com/feedline-io/feedline/internal/api/v1"
	"github.com/feedline-io/feedline/internal/core/activity"
	"github.com/feedline-io/feedline/internal/core/storage"
)

// maxCASAttempts bounds the local retry loop on aggregate-state conflicts.
// Past this, the event falls back to queue-level redelivery.
const maxCASAttempts = 5

// Result is the outcome of processing one raw event. Activity is the live
// representation to deliver — newly materialized, or re-routed when the event
// was already represented. It is nil only when no grouping rule matched.
type Result struct {
	Activity           *activity.Activity
	ReplacedActivityID string
	Candidates         []string
}

// RecipientResolver supplies the candidate recipients of an event's activity:
// the actor's followers, the target group's members, the followed principal
// itself, and so on. Candidates are gated later by live visibility checks in
// routing; this only enumerates who might care.
type RecipientResolver interface {
	CandidateRecipients(ctx context.Context, evt *v1.Event) ([]string, error)
}

// Observer receives synchronous notifications of aggregation outcomes.
// Used by tests and metrics; implementations must be fast and must not fail.
type Observer interface {
	OnActivityMaterialized(act *activity.Activity, replacedActivityID string)
	OnAggregateOrphaned(groupKey, deletedActivityID string)
}

// Aggregator is the grouping/claiming/merge state machine. One event at a
// time: compute each matching rule's group key, merge membership, resolve
// which rule claims the event, replace the claimer's materialized activity,
// orphan superseded aggregates.
//
// The rule slice is immutable configuration, injected at construction; its
// order is claim precedence.
type Aggregator struct {
	rules      []activity.GroupingRule
	activities storage.ActivityStore
	aggregates storage.AggregateStore
	resolver   RecipientResolver
	observers  []Observer

	nowFn   func() time.Time
	newIDFn func() string
}

// New creates an Aggregator over the given stores and rule configuration.
func New(
	rules []activity.GroupingRule,
	activities storage.ActivityStore,
	aggregates storage.AggregateStore,
	resolver RecipientResolver,
	observers ...Observer,
) *Aggregator {
	return &Aggregator{
		rules:      rules,
		activities: activities,
		aggregates: aggregates,
		resolver:   resolver,
		observers:  observers,
		nowFn:      func() time.Time { return time.Now().UTC() },
		newIDFn:    func() string { return uuid.NewString() },
	}
}

// candidate is one rule's aggregate after this event's merge, before any
// write has been decided.
type candidate struct {
	rule  activity.GroupingRule
	state *activity.AggregateState
	// grew is false when the event's contribution was already fully
	// contained — the redundant-resubmission signal.
	grew bool
	// wasActive / priorActivityID capture the backing before this event.
	wasActive       bool
	priorActivityID string
	// fresh means the state was never persisted (Version 0).
	fresh bool
}

// ProcessEvent runs the full aggregation pipeline for one raw event.
// Safe under at-least-once redelivery: reprocessing an already-applied event
// mutates nothing and re-routes the live activity (delivery writes are
// idempotent). CAS conflicts are retried locally from the top, bounded.
func (a *Aggregator) ProcessEvent(ctx context.Context, evt *v1.Event) (*Result, error) {
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event %s: %w", evt.ID, err)
	}

	var lastErr error
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		res, err := a.processOnce(ctx, evt)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, err
		}
		lastErr = err
		slog.Debug("[Aggregator] CAS conflict, retrying event",
			"event_id", evt.ID,
			"attempt", attempt+1)
	}

	return nil, fmt.Errorf("event %s: aggregation retries exhausted: %w", evt.ID, lastErr)
}

func (a *Aggregator) processOnce(ctx context.Context, evt *v1.Event) (*Result, error) {
	candidates, err := a.loadCandidates(ctx, evt)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		// No grouping rule covers this verb — nothing to represent.
		slog.Debug("[Aggregator] No matching rules", "event_id", evt.ID, "verb", evt.Verb)
		return &Result{}, nil
	}

	claimer := resolveClaim(candidates)

	// The claiming aggregate already represents this event's full
	// contribution and owns a live activity: a redundant resubmission, a
	// queue redelivery after a failed fan-out, or a retry of this very call.
	// Re-route the live activity instead of minting another revision —
	// delivery records and feed entries are idempotent, so repeated routing
	// converges, and deliveries lost to a transient routing error heal here.
	if claimer.wasActive && !claimer.grew {
		act, err := a.activities.GetActivity(ctx, claimer.priorActivityID)
		if err != nil {
			return nil, fmt.Errorf("reload activity %s: %w", claimer.priorActivityID, err)
		}
		if err := a.persistNonClaimers(ctx, evt, candidates, claimer); err != nil {
			return nil, err
		}
		return a.redeliverResult(ctx, evt, act)
	}

	// Materialize: create the replacement activity first, repoint the
	// aggregate, then delete the superseded activity. A crash mid-sequence
	// leaves an extra-but-valid activity, never a dangling pointer.
	revision := 1
	if claimer.wasActive {
		if prior, err := a.activities.GetActivity(ctx, claimer.priorActivityID); err == nil {
			revision = prior.Revision + 1
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}

	act := &activity.Activity{
		ID:             a.newIDFn(),
		TenantID:       evt.TenantID,
		Verb:           evt.Verb,
		ActorIDs:       claimer.state.Actors.Clone(),
		ObjectIDs:      claimer.state.Objects.Clone(),
		TargetIDs:      claimer.state.Targets.Clone(),
		PublishedAt:    a.nowFn(),
		Revision:       revision,
		SourceGroupKey: claimer.state.GroupKey,
	}

	if err := a.activities.CreateActivity(ctx, act); err != nil {
		return nil, fmt.Errorf("materialize activity: %w", err)
	}

	claimer.state.Backing = activity.ActiveBacking(act.ID)
	if err := a.aggregates.PutAggregateState(ctx, claimer.state); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost the race; remove the unreferenced activity before the
			// retry re-reads state. Best effort — an orphan row here is
			// valid-and-ignorable.
			if delErr := a.activities.DeleteActivity(ctx, act.ID); delErr != nil {
				slog.Warn("[Aggregator] Failed to clean up unclaimed activity",
					"activity_id", act.ID, "error", delErr)
			}
		}
		return nil, err
	}

	replacedID := ""
	if claimer.wasActive && claimer.priorActivityID != act.ID {
		replacedID = claimer.priorActivityID
		if err := a.activities.DeleteActivity(ctx, replacedID); err != nil {
			return nil, fmt.Errorf("retire activity %s: %w", replacedID, err)
		}
	}

	if err := a.persistNonClaimers(ctx, evt, candidates, claimer); err != nil {
		return nil, err
	}

	return a.finishResult(ctx, evt, act, replacedID)
}

// loadCandidates computes each matching rule's group key, loads or seeds its
// aggregate state and merges the event's contribution — in memory only.
func (a *Aggregator) loadCandidates(ctx context.Context, evt *v1.Event) ([]*candidate, error) {
	var candidates []*candidate
	for _, rule := range a.rules {
		if !rule.Matches(evt.Verb, evt.TargetID) {
			continue
		}

		key := rule.GroupKey(evt.TenantID, evt.ActorID, evt.ObjectID, evt.TargetID, evt.OccurredAt)

		state, err := a.aggregates.GetAggregateState(ctx, key)
		fresh := false
		if errors.Is(err, storage.ErrNotFound) {
			fresh = true
			state = &activity.AggregateState{
				GroupKey:  key,
				RuleName:  rule.Name,
				TenantID:  evt.TenantID,
				Verb:      evt.Verb,
				Backing:   activity.NoBacking(),
				CreatedAt: a.nowFn(),
			}
		} else if err != nil {
			return nil, fmt.Errorf("load aggregate %s: %w", key, err)
		} else {
			state = state.Clone()
		}

		c := &candidate{
			rule:            rule,
			state:           state,
			wasActive:       state.Backing.Active(),
			priorActivityID: state.Backing.ActivityID,
			fresh:           fresh,
		}
		c.grew = state.Merge(evt.ActorID, evt.ObjectID, evt.TargetID)
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// resolveClaim designates exactly one rule as responsible for materializing
// this event. Merge-into-existing wins over fragmentation: a rule whose
// aggregate already owns a live activity outranks one that would start a new
// activity; among several live aggregates the earliest-created is kept.
// With no live aggregate anywhere, the first rule (in configured order)
// whose merge produced an actual aggregation wins, falling back to plain
// first-rule order.
func resolveClaim(candidates []*candidate) *candidate {
	var claimer *candidate
	for _, c := range candidates {
		if !c.wasActive {
			continue
		}
		if claimer == nil || c.state.CreatedAt.Before(claimer.state.CreatedAt) {
			claimer = c
		}
	}
	if claimer != nil {
		return claimer
	}

	// No live aggregate. Prefer the first rule whose aggregate is
	// non-trivial after this merge (the event actually aggregated with
	// prior membership).
	for _, c := range candidates {
		if !c.fresh {
			return c
		}
	}
	return candidates[0]
}

// persistNonClaimers records membership growth for every non-claiming rule
// and orphans any that previously owned an activity — it is now superseded
// and its activity retired. Pointer is cleared before the delete so a crash
// never leaves a reachable dangling reference.
func (a *Aggregator) persistNonClaimers(ctx context.Context, evt *v1.Event, candidates []*candidate, claimer *candidate) error {
	for _, c := range candidates {
		if c == claimer {
			continue
		}

		superseded := c.wasActive
		if superseded {
			c.state.Backing = activity.OrphanedBacking()
		}

		if !c.grew && !superseded {
			// Nothing changed for this aggregate — skip the write.
			continue
		}

		if err := a.aggregates.PutAggregateState(ctx, c.state); err != nil {
			return err
		}

		if superseded {
			if err := a.activities.DeleteActivity(ctx, c.priorActivityID); err != nil {
				return fmt.Errorf("retire superseded activity %s: %w", c.priorActivityID, err)
			}
			for _, o := range a.observers {
				o.OnAggregateOrphaned(c.state.GroupKey, c.priorActivityID)
			}
			slog.Debug("[Aggregator] Orphaned superseded aggregate",
				"group_key", c.state.GroupKey,
				"rule", c.rule.Name,
				"deleted_activity_id", c.priorActivityID)
		}
	}
	return nil
}

func (a *Aggregator) finishResult(ctx context.Context, evt *v1.Event, act *activity.Activity, replacedID string) (*Result, error) {
	candidates, err := a.resolver.CandidateRecipients(ctx, evt)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients for event %s: %w", evt.ID, err)
	}

	for _, o := range a.observers {
		o.OnActivityMaterialized(act, replacedID)
	}

	slog.Info("[Aggregator] Materialized activity",
		"event_id", evt.ID,
		"activity_id", act.ID,
		"verb", act.Verb,
		"revision", act.Revision,
		"replaced_activity_id", replacedID,
		"candidates", len(candidates))

	return &Result{
		Activity:           act,
		ReplacedActivityID: replacedID,
		Candidates:         dedupe(candidates),
	}, nil
}

// redeliverResult rebuilds the fan-out for an event already represented by a
// live activity. Nothing is materialized and observers are not notified.
func (a *Aggregator) redeliverResult(ctx context.Context, evt *v1.Event, act *activity.Activity) (*Result, error) {
	candidates, err := a.resolver.CandidateRecipients(ctx, evt)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients for event %s: %w", evt.ID, err)
	}

	slog.Debug("[Aggregator] Event already represented, re-routing live activity",
		"event_id", evt.ID,
		"activity_id", act.ID,
		"revision", act.Revision)

	return &Result{
		Activity:   act,
		Candidates: dedupe(candidates),
	}, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
