package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	v1 "github.com/feedline-io/feedline/internal/api/v1"
	"github.com/feedline-io/feedline/internal/core/activity"
	"github.com/feedline-io/feedline/internal/core/storage"
)

// memActivities is an in-memory ActivityStore.
type memActivities struct {
	byID    map[string]*activity.Activity
	created int
	deleted []string
}

func newMemActivities() *memActivities {
	return &memActivities{byID: make(map[string]*activity.Activity)}
}

func (m *memActivities) CreateActivity(_ context.Context, act *activity.Activity) error {
	m.byID[act.ID] = act
	m.created++
	return nil
}

func (m *memActivities) DeleteActivity(_ context.Context, id string) error {
	if _, ok := m.byID[id]; ok {
		delete(m.byID, id)
		m.deleted = append(m.deleted, id)
	}
	return nil
}

func (m *memActivities) GetActivity(_ context.Context, id string) (*activity.Activity, error) {
	act, ok := m.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return act, nil
}

// memAggregates is an in-memory AggregateStore with real CAS semantics.
// conflictsOn injects forced conflicts: group key -> remaining failures.
type memAggregates struct {
	byKey       map[string]*activity.AggregateState
	conflictsOn map[string]int
}

func newMemAggregates() *memAggregates {
	return &memAggregates{
		byKey:       make(map[string]*activity.AggregateState),
		conflictsOn: make(map[string]int),
	}
}

func (m *memAggregates) GetAggregateState(_ context.Context, groupKey string) (*activity.AggregateState, error) {
	state, ok := m.byKey[groupKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return state.Clone(), nil
}

func (m *memAggregates) PutAggregateState(_ context.Context, state *activity.AggregateState) error {
	if n := m.conflictsOn[state.GroupKey]; n > 0 {
		m.conflictsOn[state.GroupKey] = n - 1
		return storage.ErrConflict
	}

	cur, exists := m.byKey[state.GroupKey]
	if state.Version == 0 {
		if exists {
			return storage.ErrConflict
		}
	} else if !exists || cur.Version != state.Version {
		return storage.ErrConflict
	}

	state.Version++
	m.byKey[state.GroupKey] = state.Clone()
	return nil
}

// stateFor finds the stored aggregate for a rule by name; nil if absent.
func (m *memAggregates) stateFor(ruleName string) *activity.AggregateState {
	for _, s := range m.byKey {
		if s.RuleName == ruleName {
			return s
		}
	}
	return nil
}

// pairResolver returns the event's actor and object as candidates — enough
// for feed-visibility assertions without a principal directory.
type pairResolver struct{}

func (pairResolver) CandidateRecipients(_ context.Context, evt *v1.Event) ([]string, error) {
	return []string{evt.ActorID, evt.ObjectID}, nil
}

// recordingObserver counts pipeline outcomes.
type recordingObserver struct {
	mu           sync.Mutex
	materialized int
	orphaned     []string // deleted activity ids
}

func (o *recordingObserver) OnActivityMaterialized(_ *activity.Activity, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.materialized++
}

func (o *recordingObserver) OnAggregateOrphaned(_, deletedActivityID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orphaned = append(o.orphaned, deletedActivityID)
}

// newTestAggregator wires an Aggregator with deterministic ids ("act-1",
// "act-2", ...) and a clock that advances one second per reading.
func newTestAggregator(rules []activity.GroupingRule, acts *memActivities, aggs *memAggregates, observers ...Observer) *Aggregator {
	a := New(rules, acts, aggs, pairResolver{}, observers...)

	seq := 0
	a.newIDFn = func() string {
		seq++
		return fmt.Sprintf("act-%d", seq)
	}

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a.nowFn = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	return a
}

func followRule(name string, pivot activity.Pivot) activity.GroupingRule {
	return activity.GroupingRule{
		Name:        name,
		Verb:        v1.VerbFollow,
		Pivots:      []activity.Pivot{pivot},
		MergeWindow: time.Hour,
	}
}

func followEvent(id, actorID, objectID string) *v1.Event {
	return &v1.Event{
		ID:         id,
		TenantID:   "tenant-1",
		Verb:       v1.VerbFollow,
		ActorID:    actorID,
		ObjectID:   objectID,
		OccurredAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}
