// Package principal defines the contract of the external principal/visibility
// service. The engine never caches answers beyond a single delivery
// evaluation: visibility is always checked live, at routing time, so a later
// downgrade suppresses future deliveries without rewriting history.
package principal

import (
	"context"
	"time"

	"github.com/feedline-io/feedline/internal/core/activity"
)

// Visibility is a principal's effective visibility level.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityLoggedIn Visibility = "loggedin"
	VisibilityPrivate  Visibility = "private"
)

// EmailSchedule is a recipient's digest cadence preference.
type EmailSchedule struct {
	Preference activity.EmailPreference
	Hour       int // hour-of-day for daily/weekly digests
	Weekday    time.Weekday
}

// Directory is the live principal/visibility lookup consumed by routing.
// Implementations live outside this repository (the identity service); tests
// use fakes.
type Directory interface {
	// CurrentVisibility returns the principal's visibility right now.
	CurrentVisibility(ctx context.Context, principalID string) (Visibility, error)

	// IsFollowerOf reports whether userID currently follows principalID.
	IsFollowerOf(ctx context.Context, userID, principalID string) (bool, error)

	// TenantOf returns the principal's home tenant.
	TenantOf(ctx context.Context, principalID string) (string, error)

	// IsSameOrFederatedTenant reports whether tenants a and b may exchange
	// activity at all.
	IsSameOrFederatedTenant(ctx context.Context, a, b string) (bool, error)

	// FollowersOf returns the user ids currently following the principal.
	FollowersOf(ctx context.Context, principalID string) ([]string, error)

	// MembersOf returns the user ids that are members of the group.
	MembersOf(ctx context.Context, groupID string) ([]string, error)

	// EmailScheduleOf returns the recipient's digest preference.
	EmailScheduleOf(ctx context.Context, recipientID string) (EmailSchedule, error)
}
