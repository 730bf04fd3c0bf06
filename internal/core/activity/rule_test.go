package activity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeRule is a test helper that writes a single rule YAML file into dir.
func writeRule(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestFileSystemRuleRepository_LoadPreservesFileOrder(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "10_follow_by_actor.yaml", `
name: "follow-by-actor"
verb: "follow"
pivots: ["actor"]
merge_window: "1h"
`)
	writeRule(t, dir, "20_follow_by_object.yaml", `
name: "follow-by-object"
verb: "follow"
pivots: ["object"]
merge_window: "1h"
`)

	repo, err := NewFileSystemRuleRepository(dir)
	require.NoError(t, err)

	rules := repo.Rules()
	require.Len(t, rules, 2)

	// Lexical file order is claim-precedence order.
	require.Equal(t, "follow-by-actor", rules[0].Name)
	require.Equal(t, "follow-by-object", rules[1].Name)
	require.Equal(t, []Pivot{PivotActor}, rules[0].Pivots)
	require.Equal(t, time.Hour, rules[0].MergeWindow)
	require.NotEmpty(t, rules[0].Fingerprint)
	require.NotEqual(t, rules[0].Fingerprint, rules[1].Fingerprint)
}

func TestFileSystemRuleRepository_Get(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "share.yaml", `
name: "share-by-target"
verb: "share"
pivots: ["target"]
merge_window: "1d"
`)

	repo, err := NewFileSystemRuleRepository(dir)
	require.NoError(t, err)

	rule, err := repo.Get("share-by-target")
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, rule.MergeWindow)

	_, err = repo.Get("nope")
	require.Error(t, err)
}

func TestFileSystemRuleRepository_MissingDirIsEmpty(t *testing.T) {
	repo, err := NewFileSystemRuleRepository(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	require.Empty(t, repo.Rules())
}

func TestFileSystemRuleRepository_RejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing verb", content: "name: \"r1\"\npivots: [\"actor\"]\n"},
		{name: "no pivots", content: "name: \"r1\"\nverb: \"follow\"\n"},
		{name: "bad pivot", content: "name: \"r1\"\nverb: \"follow\"\npivots: [\"subject\"]\n"},
		{name: "duplicate pivot", content: "name: \"r1\"\nverb: \"follow\"\npivots: [\"actor\", \"actor\"]\n"},
		{name: "bad window", content: "name: \"r1\"\nverb: \"follow\"\npivots: [\"actor\"]\nmerge_window: \"soon\"\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeRule(t, dir, "rule.yaml", tc.content)
			_, err := NewFileSystemRuleRepository(dir)
			require.Error(t, err)
		})
	}
}

func TestFileSystemRuleRepository_RejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "a.yaml", "name: \"r1\"\nverb: \"follow\"\npivots: [\"actor\"]\n")
	writeRule(t, dir, "b.yaml", "name: \"r1\"\nverb: \"follow\"\npivots: [\"object\"]\n")

	_, err := NewFileSystemRuleRepository(dir)
	require.Error(t, err)
}
