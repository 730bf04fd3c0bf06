package activity

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

const defaultMergeWindow = time.Hour

// ParseMergeWindow parses a merge-window string into a duration.
// Supports Go duration syntax (e.g., "10m", "1h") plus "Xd" for days.
// Empty means the default window (1h).
func ParseMergeWindow(s string) (time.Duration, error) {
	if s == "" {
		return defaultMergeWindow, nil
	}

	// Handle "d" suffix (days) — not supported by time.ParseDuration.
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return 0, fmt.Errorf("invalid merge_window %q: %w", s, err)
		}
		if days <= 0 {
			return 0, fmt.Errorf("merge_window must be positive, got %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid merge_window %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("merge_window must be positive, got %q", s)
	}
	return d, nil
}

// WindowStart truncates a timestamp to the rule's merge-window boundary.
// Events in different windows never merge into the same aggregate, which is
// what bounds aggregate growth over time.
func (r GroupingRule) WindowStart(t time.Time) time.Time {
	return t.UTC().Truncate(r.MergeWindow)
}

// PivotValues extracts, in pivot order, the event field values this rule
// holds fixed.
func (r GroupingRule) PivotValues(actorID, objectID, targetID string) []string {
	vals := make([]string, 0, len(r.Pivots))
	for _, p := range r.Pivots {
		switch p {
		case PivotActor:
			vals = append(vals, actorID)
		case PivotObject:
			vals = append(vals, objectID)
		case PivotTarget:
			vals = append(vals, targetID)
		}
	}
	return vals
}

// GroupKey derives the deterministic aggregate identity for an event under
// this rule: hash of (rule, tenant, pivot values, time window). Same inputs
// always yield the same key, in any process — the whole claiming protocol
// depends on that.
func (r GroupingRule) GroupKey(tenantID, actorID, objectID, targetID string, occurredAt time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", r.Name, r.Verb, tenantID)
	fmt.Fprintf(h, "%s\x00", strings.Join(r.PivotValues(actorID, objectID, targetID), "\x00"))
	fmt.Fprintf(h, "%d", r.WindowStart(occurredAt).Unix())
	return fmt.Sprintf("%x", h.Sum(nil))
}
