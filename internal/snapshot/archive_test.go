package snapshot

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leakhound/internal/leak"
)

func TestArchiveSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	archive, err := OpenArchive(path)
	require.NoError(t, err)
	defer archive.Close()

	src := newTestEngine()
	t0 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	a := makeSnap("ci-run-1", 33, t0)
	a.ResourceCounts = leak.ResourceCounts{Timeouts: 2}
	seed(src, a, makeSnap("ci-run-2", 35, t0.Add(time.Hour)))
	require.NoError(t, src.SetBaseline("ci-run-1", "main"))

	require.NoError(t, archive.Save(src))

	dst := newTestEngine()
	require.NoError(t, archive.Load(dst))

	for _, id := range []string{"ci-run-1", "ci-run-2", "main"} {
		want, err := src.Snapshot(id)
		require.NoError(t, err)
		got, err := dst.Snapshot(id)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(want, got))
	}
}

func TestArchiveSaveReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	archive, err := OpenArchive(path)
	require.NoError(t, err)
	defer archive.Close()

	src := newTestEngine()
	seed(src, makeSnap("run", 10, time.Now()))
	require.NoError(t, archive.Save(src))

	// Saving again with updated data overwrites the archived row.
	src.snapshots["run"] = makeSnap("run", 99, time.Now())
	require.NoError(t, archive.Save(src))

	dst := newTestEngine()
	require.NoError(t, archive.Load(dst))
	got, err := dst.Snapshot("run")
	require.NoError(t, err)
	assert.Equal(t, uint64(99*bytesPerMB), got.MemoryUsage.HeapUsed)
}

func TestArchivePruneKeepsBaselines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	archive, err := OpenArchive(path)
	require.NoError(t, err)
	defer archive.Close()

	src := newTestEngine()
	stale := makeSnap("stale", 10, time.Now().Add(-48*time.Hour))
	recent := makeSnap("recent", 10, time.Now())
	seed(src, stale, recent)
	require.NoError(t, src.SetBaseline("stale", "pinned"))
	require.NoError(t, archive.Save(src))

	pruned, err := archive.Prune(24 * time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	dst := newTestEngine()
	require.NoError(t, archive.Load(dst))
	_, err = dst.Snapshot("stale")
	assert.ErrorIs(t, err, leak.ErrSnapshotNotFound)
	_, err = dst.Snapshot("recent")
	assert.NoError(t, err)
	// The pinned baseline survives pruning regardless of age.
	kept, err := dst.Snapshot("pinned")
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(stale, kept))
}
