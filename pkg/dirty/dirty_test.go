package dirty

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestTrackerChanged(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	writeFile(t, a, "classes: []")
	writeFile(t, b, "classes: []")

	tr, err := Open(filepath.Join(dir, "state"))
	require.NoError(t, err)
	assert.Zero(t, tr.Len())

	changed, err := tr.Changed([]string{a, b})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, changed)

	require.NoError(t, tr.Record([]string{a, b}))
	changed, err = tr.Changed([]string{a, b})
	require.NoError(t, err)
	assert.Empty(t, changed)

	// Rewriting identical content is not a change.
	writeFile(t, a, "classes: []")
	writeFile(t, b, "classes: [] # edited")
	changed, err = tr.Changed([]string{a, b})
	require.NoError(t, err)
	assert.Equal(t, []string{b}, changed)

	tr.Forget(a)
	changed, err = tr.Changed([]string{a})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, changed)
}

func TestTrackerMissingFile(t *testing.T) {
	tr, err := Open(t.TempDir())
	require.NoError(t, err)
	_, err = tr.Changed([]string{filepath.Join(t.TempDir(), "absent.yaml")})
	assert.Error(t, err)
	assert.Error(t, tr.Record([]string{filepath.Join(t.TempDir(), "absent.yaml")}))
}

func TestTrackerPersistence(t *testing.T) {
	dir := t.TempDir()
	prog := filepath.Join(dir, "p.yaml")
	writeFile(t, prog, "classes: []")
	stateDir := filepath.Join(dir, ".jcfg")

	tr, err := Open(stateDir)
	require.NoError(t, err)
	built := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	tr.now = func() time.Time { return built }
	require.NoError(t, tr.Record([]string{prog}))
	require.NoError(t, tr.Save())
	assert.FileExists(t, filepath.Join(stateDir, DefaultStateFile))

	reopened, err := Open(stateDir)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
	at, ok := reopened.BuiltAt(prog)
	require.True(t, ok)
	assert.True(t, built.Equal(at))
	changed, err := reopened.Changed([]string{prog})
	require.NoError(t, err)
	assert.Empty(t, changed)

	_, ok = reopened.BuiltAt(filepath.Join(dir, "other.yaml"))
	assert.False(t, ok)
}

func TestTrackerStateFile(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, WithStateFile("custom.msgpack"))
	require.NoError(t, err)
	require.NoError(t, tr.Save())
	assert.FileExists(t, filepath.Join(dir, "custom.msgpack"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultStateFile), []byte("not msgpack"), 0644))
	_, err = Open(dir)
	assert.Error(t, err)

	tr, err = Open(dir, WithoutLoad())
	require.NoError(t, err)
	assert.Zero(t, tr.Len())
}
