package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func byActorRule() GroupingRule {
	return GroupingRule{
		Name:        "follow-by-actor",
		Verb:        "follow",
		Pivots:      []Pivot{PivotActor},
		MergeWindow: time.Hour,
	}
}

func TestParseMergeWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "", want: time.Hour}, // default
		{in: "10m", want: 10 * time.Minute},
		{in: "1h", want: time.Hour},
		{in: "2d", want: 48 * time.Hour},
		{in: "0s", wantErr: true},
		{in: "-5m", wantErr: true},
		{in: "banana", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseMergeWindow(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestGroupKeyIsDeterministic(t *testing.T) {
	rule := byActorRule()
	at := time.Date(2024, 3, 1, 10, 17, 0, 0, time.UTC)

	k1 := rule.GroupKey("t1", "user:simon", "user:branden", "", at)
	k2 := rule.GroupKey("t1", "user:simon", "user:bert", "", at.Add(10*time.Minute))
	require.Equal(t, k1, k2, "same actor pivot and window must share a key")

	k3 := rule.GroupKey("t1", "user:nico", "user:branden", "", at)
	require.NotEqual(t, k1, k3, "different actor pivot must differ")
}

func TestGroupKeySeparatesWindows(t *testing.T) {
	rule := byActorRule()
	at := time.Date(2024, 3, 1, 10, 59, 0, 0, time.UTC)

	k1 := rule.GroupKey("t1", "user:simon", "user:branden", "", at)
	k2 := rule.GroupKey("t1", "user:simon", "user:branden", "", at.Add(2*time.Minute))
	require.NotEqual(t, k1, k2, "events across the window boundary must not merge")
}

func TestGroupKeySeparatesTenantsAndRules(t *testing.T) {
	rule := byActorRule()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NotEqual(t,
		rule.GroupKey("t1", "user:simon", "user:branden", "", at),
		rule.GroupKey("t2", "user:simon", "user:branden", "", at),
	)

	byObject := GroupingRule{Name: "follow-by-object", Verb: "follow", Pivots: []Pivot{PivotObject}, MergeWindow: time.Hour}
	require.NotEqual(t,
		rule.GroupKey("t1", "user:simon", "user:simon", "", at),
		byObject.GroupKey("t1", "user:simon", "user:simon", "", at),
	)
}

func TestRuleMatches(t *testing.T) {
	byTarget := GroupingRule{Name: "share-by-target", Verb: "share", Pivots: []Pivot{PivotTarget}, MergeWindow: time.Hour}

	require.True(t, byActorRule().Matches("follow", ""))
	require.False(t, byActorRule().Matches("create", ""))
	require.True(t, byTarget.Matches("share", "group:g1"))
	require.False(t, byTarget.Matches("share", ""), "target pivot requires a target")
}

func TestPivotValuesOrder(t *testing.T) {
	rule := GroupingRule{
		Name:   "share-by-object-target",
		Verb:   "share",
		Pivots: []Pivot{PivotObject, PivotTarget},
	}
	require.Equal(t, []string{"doc:1", "group:g1"}, rule.PivotValues("user:simon", "doc:1", "group:g1"))
}
