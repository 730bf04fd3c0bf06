package v1

import (
	"fmt"
	"time"
)

// Verbs the engine aggregates. Resource APIs may introduce new verbs by
// registering them in the verb registry; these are the well-known ones.
const (
	VerbFollow = "follow"
	VerbCreate = "create"
	VerbShare  = "share"
	VerbJoin   = "join"
	VerbUpdate = "update"
)

// Event is the raw activity event — the atomic unit of the system.
// It records that one actor performed one verb against one object
// (optionally relative to a target, e.g. "add document to group").
type Event struct {
	// ID is the unique immutable identifier provided by the originating
	// resource API. It MUST be unique per TenantID to enforce idempotency.
	ID string `json:"id"`

	// TenantID scopes the event to one tenant. Cross-tenant delivery is
	// decided later, at routing time, never at ingest.
	TenantID string `json:"tenant_id"`

	// Verb is the action performed, e.g. "follow", "create", "share".
	Verb string `json:"verb"`

	// ActorID is the principal that performed the action.
	// Examples: "user:simon", "group:backend-team".
	ActorID string `json:"actor_id"`

	// ObjectID is the principal or resource the action was performed on.
	ObjectID string `json:"object_id"`

	// TargetID is the optional indirect object ("added X *to* Y").
	TargetID string `json:"target_id,omitempty"`

	// OccurredAt is when the action happened (originating service clock).
	OccurredAt time.Time `json:"occurred_at"`

	// IngestedAt is when the engine received the event. Set server-side.
	IngestedAt time.Time `json:"ingested_at"`

	// IngestSeq is a monotonic sequence number assigned on ingestion.
	// It is the aggregation worker's redelivery cursor: the worker only
	// advances its checkpoint past events it has fully processed.
	// Set by the database (BIGSERIAL), not exposed in the public API.
	IngestSeq int64 `json:"-"`
}

// Validate ensures the event carries every required envelope attribute.
// A structurally invalid event can never aggregate; it is rejected at the
// edge (HTTP 400) or dropped by the worker, never retried.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}

	if e.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	if e.Verb == "" {
		return fmt.Errorf("verb is required")
	}

	if e.ActorID == "" {
		return fmt.Errorf("actor_id is required")
	}

	if e.ObjectID == "" {
		return fmt.Errorf("object_id is required")
	}

	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}

	return nil
}
