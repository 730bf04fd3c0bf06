package verbs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/feedline-io/feedline/internal/core/activity"
)

func writeVerbFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestRegistryLoadsDefinitionsFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeVerbFile(t, dir, "follow.yaml", `
name: follow
streams:
  - activity
  - notification
`)
	writeVerbFile(t, dir, "join.yaml", `
name: join
requires_target: true
`)

	reg, err := NewRegistry(dir)
	require.NoError(t, err)

	follow, err := reg.Get("follow")
	require.NoError(t, err)
	require.False(t, follow.RequiresTarget)
	require.True(t, follow.AllowsStream(activity.StreamActivity))
	require.False(t, follow.AllowsStream(activity.StreamEmail))
	require.NotEmpty(t, follow.Fingerprint)

	join, err := reg.Get("join")
	require.NoError(t, err)
	require.True(t, join.RequiresTarget)
	require.True(t, join.AllowsStream(activity.StreamEmail), "no streams listed means all streams")
}

func TestRegistryRejectsUnknownStream(t *testing.T) {
	dir := t.TempDir()
	writeVerbFile(t, dir, "bad.yaml", `
name: wave
streams:
  - telepathy
`)

	_, err := NewRegistry(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "telepathy")
}

func TestRegistryRejectsDuplicateVerbs(t *testing.T) {
	dir := t.TempDir()
	writeVerbFile(t, dir, "a.yaml", "name: follow\n")
	writeVerbFile(t, dir, "b.yaml", "name: follow\n")

	_, err := NewRegistry(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate")
}

func TestRegistryFallsBackToDefaults(t *testing.T) {
	reg, err := NewRegistry(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)

	for _, name := range []string{"follow", "share"} {
		_, err := reg.Get(name)
		require.NoError(t, err)
	}

	join, err := reg.Get("join")
	require.NoError(t, err)
	require.True(t, join.RequiresTarget)

	_, err = reg.Get("wave")
	require.Error(t, err)
}

func TestRegistrySkipsNonYAMLAndEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	writeVerbFile(t, dir, "follow.yaml", "name: follow\n")
	writeVerbFile(t, dir, "notes.txt", "name: ignored\n")
	writeVerbFile(t, dir, "empty.yaml", "# just a comment\n")

	reg, err := NewRegistry(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"follow"}, reg.Names())
	_, err = reg.Get("ignored")
	require.Error(t, err)
}

func TestRegistryAllowsStream(t *testing.T) {
	dir := t.TempDir()
	writeVerbFile(t, dir, "follow.yaml", `
name: follow
streams:
  - notification
`)
	writeVerbFile(t, dir, "share.yaml", "name: share\n")

	reg, err := NewRegistry(dir)
	require.NoError(t, err)

	require.True(t, reg.AllowsStream("follow", activity.StreamNotification))
	require.False(t, reg.AllowsStream("follow", activity.StreamActivity))
	require.False(t, reg.AllowsStream("follow", activity.StreamEmail))

	require.True(t, reg.AllowsStream("share", activity.StreamEmail), "no streams listed means all streams")
	require.True(t, reg.AllowsStream("wave", activity.StreamActivity), "unregistered verbs are unrestricted")
}
