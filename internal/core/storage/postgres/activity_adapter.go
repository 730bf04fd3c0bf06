package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/feedline-io/feedline/internal/core/activity"
	"github.com/feedline-io/feedline/internal/core/storage"
)

// ActivityAdapter implements storage.ActivityStore and storage.AggregateStore
// on PostgreSQL. The aggregate write path is compare-and-swap on the version
// column — the contract that keeps concurrent processing of two events on the
// same group key from silently losing a merge.
type ActivityAdapter struct {
	db *sql.DB
}

// NewActivityAdapter creates a new ActivityAdapter sharing the given connection.
func NewActivityAdapter(db *sql.DB) *ActivityAdapter {
	return &ActivityAdapter{db: db}
}

// CreateActivity persists a materialized activity.
func (a *ActivityAdapter) CreateActivity(ctx context.Context, act *activity.Activity) error {
	actorIDs, err := marshalIDs(act.ActorIDs)
	if err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	objectIDs, err := marshalIDs(act.ObjectIDs)
	if err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	targetIDs, err := marshalIDs(act.TargetIDs)
	if err != nil {
		return fmt.Errorf("create activity: %w", err)
	}

	if _, err := a.db.ExecContext(ctx, queryCreateActivity,
		act.ID,
		act.TenantID,
		act.Verb,
		actorIDs,
		objectIDs,
		targetIDs,
		act.PublishedAt,
		act.Revision,
		act.SourceGroupKey,
	); err != nil {
		return fmt.Errorf("create activity %s: %w", act.ID, err)
	}

	slog.Debug("[Postgres] Created activity",
		"activity_id", act.ID,
		"verb", act.Verb,
		"revision", act.Revision)
	return nil
}

// DeleteActivity hard-deletes a superseded activity. Deleting an id that is
// already gone is a no-op so crash recovery can retry safely.
func (a *ActivityAdapter) DeleteActivity(ctx context.Context, id string) error {
	if _, err := a.db.ExecContext(ctx, queryDeleteActivity, id); err != nil {
		return fmt.Errorf("delete activity %s: %w", id, err)
	}
	return nil
}

// GetActivity returns storage.ErrNotFound for unknown ids.
func (a *ActivityAdapter) GetActivity(ctx context.Context, id string) (*activity.Activity, error) {
	row := a.db.QueryRowContext(ctx, queryGetActivity, id)

	var act activity.Activity
	var actorIDs, objectIDs, targetIDs []byte
	err := row.Scan(
		&act.ID,
		&act.TenantID,
		&act.Verb,
		&actorIDs,
		&objectIDs,
		&targetIDs,
		&act.PublishedAt,
		&act.Revision,
		&act.SourceGroupKey,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activity %s: %w", id, err)
	}

	if act.ActorIDs, err = unmarshalIDs(actorIDs); err != nil {
		return nil, fmt.Errorf("get activity %s: %w", id, err)
	}
	if act.ObjectIDs, err = unmarshalIDs(objectIDs); err != nil {
		return nil, fmt.Errorf("get activity %s: %w", id, err)
	}
	if act.TargetIDs, err = unmarshalIDs(targetIDs); err != nil {
		return nil, fmt.Errorf("get activity %s: %w", id, err)
	}

	return &act, nil
}

// GetAggregateState returns storage.ErrNotFound for an unseen group key.
func (a *ActivityAdapter) GetAggregateState(ctx context.Context, groupKey string) (*activity.AggregateState, error) {
	row := a.db.QueryRowContext(ctx, queryGetAggregateState, groupKey)

	var state activity.AggregateState
	var actorIDs, objectIDs, targetIDs []byte
	var backingKind string
	var backingActivityID sql.NullString

	err := row.Scan(
		&state.GroupKey,
		&state.RuleName,
		&state.TenantID,
		&state.Verb,
		&actorIDs,
		&objectIDs,
		&targetIDs,
		&backingKind,
		&backingActivityID,
		&state.Version,
		&state.CreatedAt,
		&state.LastUpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get aggregate state %s: %w", groupKey, err)
	}

	var actors, objects, targets []string
	if actors, err = unmarshalIDs(actorIDs); err != nil {
		return nil, fmt.Errorf("get aggregate state %s: %w", groupKey, err)
	}
	if objects, err = unmarshalIDs(objectIDs); err != nil {
		return nil, fmt.Errorf("get aggregate state %s: %w", groupKey, err)
	}
	if targets, err = unmarshalIDs(targetIDs); err != nil {
		return nil, fmt.Errorf("get aggregate state %s: %w", groupKey, err)
	}
	state.Actors = activity.MemberSet(actors)
	state.Objects = activity.MemberSet(objects)
	state.Targets = activity.MemberSet(targets)

	switch activity.BackingKind(backingKind) {
	case activity.BackingActive:
		state.Backing = activity.ActiveBacking(backingActivityID.String)
	case activity.BackingOrphaned:
		state.Backing = activity.OrphanedBacking()
	default:
		state.Backing = activity.NoBacking()
	}

	return &state, nil
}

// PutAggregateState writes the state if the stored version still matches
// state.Version. Version 0 means "must not exist yet" (insert). On success
// the state's Version advances; a lost race returns storage.ErrConflict.
func (a *ActivityAdapter) PutAggregateState(ctx context.Context, state *activity.AggregateState) error {
	actorIDs, err := marshalIDs(state.Actors)
	if err != nil {
		return fmt.Errorf("put aggregate state: %w", err)
	}
	objectIDs, err := marshalIDs(state.Objects)
	if err != nil {
		return fmt.Errorf("put aggregate state: %w", err)
	}
	targetIDs, err := marshalIDs(state.Targets)
	if err != nil {
		return fmt.Errorf("put aggregate state: %w", err)
	}

	now := time.Now().UTC()

	if state.Version == 0 {
		result, err := a.db.ExecContext(ctx, queryInsertAggregateState,
			state.GroupKey,
			state.RuleName,
			state.TenantID,
			state.Verb,
			actorIDs,
			objectIDs,
			targetIDs,
			string(state.Backing.Kind),
			nullString(state.Backing.ActivityID),
			state.CreatedAt,
			now,
		)
		if err != nil {
			return fmt.Errorf("insert aggregate state %s: %w", state.GroupKey, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert aggregate state %s: %w", state.GroupKey, err)
		}
		if rows == 0 {
			// Someone else created the key first.
			return storage.ErrConflict
		}
		state.Version = 1
		state.LastUpdatedAt = now
		return nil
	}

	result, err := a.db.ExecContext(ctx, queryUpdateAggregateState,
		state.GroupKey,
		actorIDs,
		objectIDs,
		targetIDs,
		string(state.Backing.Kind),
		nullString(state.Backing.ActivityID),
		now,
		state.Version,
	)
	if err != nil {
		return fmt.Errorf("update aggregate state %s: %w", state.GroupKey, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update aggregate state %s: %w", state.GroupKey, err)
	}
	if rows == 0 {
		// Version moved underneath us — caller retries the whole event.
		return storage.ErrConflict
	}

	state.Version++
	state.LastUpdatedAt = now
	return nil
}
