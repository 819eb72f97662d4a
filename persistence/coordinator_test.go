package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardexio/cardex/blobstore"
	"github.com/cardexio/cardex/index/flat"
	"github.com/cardexio/cardex/manifest"
	"github.com/cardexio/cardex/mapping"
	"github.com/cardexio/cardex/model"
	"github.com/cardexio/cardex/resource"
	"github.com/cardexio/cardex/testutil"
	"github.com/cardexio/cardex/wal"
)

const testDim = 16

func newCoordinator(t *testing.T, cfg Config) (*Coordinator, *flat.Index, *mapping.Table) {
	t.Helper()

	if cfg.Dimension == 0 {
		cfg.Dimension = testDim
	}

	c, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)

	idx, table, err := c.Recover(context.Background())
	require.NoError(t, err)
	return c, idx, table
}

func fill(t *testing.T, idx *flat.Index, table *mapping.Table, n int) [][]float32 {
	t.Helper()
	ctx := context.Background()

	rng := testutil.NewRNG(11)
	vectors := rng.UnitVectors(n, idx.Dimension())
	for i, v := range vectors {
		slot, err := idx.Append(ctx, v)
		require.NoError(t, err)
		require.NoError(t, table.Bind(fmt.Sprintf("card-%d", i), slot))
	}
	return vectors
}

func TestRecoverFreshDir(t *testing.T) {
	_, idx, table := newCoordinator(t, Config{Dir: t.TempDir()})

	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 0, table.Len())
	assert.Equal(t, testDim, idx.Dimension())
}

func TestCheckpointRecoverRoundTrip(t *testing.T) {
	for _, compression := range []string{CompressionNone, CompressionZstd, CompressionLZ4} {
		t.Run(compression, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			c, idx, table := newCoordinator(t, Config{Dir: dir, Compression: compression})
			vectors := fill(t, idx, table, 30)
			require.NoError(t, c.Checkpoint(ctx))

			gen, _ := c.Generation()
			assert.Equal(t, uint64(1), gen)

			c2, idx2, table2 := newCoordinator(t, Config{Dir: dir, Compression: compression})
			assert.Equal(t, 30, idx2.Len())
			assert.Equal(t, 30, table2.Len())

			for i, want := range vectors {
				got, ok := idx2.VectorAt(model.Slot(i))
				require.True(t, ok)
				assert.Equal(t, want, got)

				slot, ok := table2.SlotOf(fmt.Sprintf("card-%d", i))
				require.True(t, ok)
				assert.Equal(t, model.Slot(i), slot)
			}

			gen, _ = c2.Generation()
			assert.Equal(t, uint64(1), gen)
		})
	}
}

func TestRecoveryFollowsManifestCompression(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, idx, table := newCoordinator(t, Config{Dir: dir, Compression: CompressionZstd})
	fill(t, idx, table, 5)
	require.NoError(t, c.Checkpoint(ctx))

	// A config change must not break decoding of the existing checkpoint.
	_, idx2, _ := newCoordinator(t, Config{Dir: dir, Compression: CompressionLZ4})
	assert.Equal(t, 5, idx2.Len())
}

func TestRecoverRejectsCorruptArtifact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, idx, table := newCoordinator(t, Config{Dir: dir})
	fill(t, idx, table, 10)
	require.NoError(t, c.Checkpoint(ctx))

	// Flip a byte in the index artifact.
	path := filepath.Join(dir, IndexFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	c2, err := NewCoordinator(Config{Dir: dir, Dimension: testDim}, nil)
	require.NoError(t, err)
	_, _, err = c2.Recover(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestRecoverRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, idx, table := newCoordinator(t, Config{Dir: dir})
	fill(t, idx, table, 3)
	require.NoError(t, c.Checkpoint(ctx))

	c2, err := NewCoordinator(Config{Dir: dir, Dimension: testDim * 2}, nil)
	require.NoError(t, err)
	_, _, err = c2.Recover(ctx)
	assert.Error(t, err)
}

func TestCheckpointRefusesInconsistentState(t *testing.T) {
	ctx := context.Background()

	c, idx, _ := newCoordinator(t, Config{Dir: t.TempDir()})
	_, err := idx.Append(ctx, testutil.NewRNG(1).UnitVector(testDim))
	require.NoError(t, err)

	// Index has one vector, mapping has none.
	err = c.Checkpoint(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing checkpoint")
}

func TestNoteInsertTrigger(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, idx, table := newCoordinator(t, Config{Dir: dir, CheckpointEveryN: 5})

	rng := testutil.NewRNG(2)
	for i := 0; i < 4; i++ {
		slot, err := idx.Append(ctx, rng.UnitVector(testDim))
		require.NoError(t, err)
		require.NoError(t, table.Bind(fmt.Sprintf("card-%d", i), slot))
		require.NoError(t, c.NoteInsert(ctx))
	}

	gen, _ := c.Generation()
	assert.Equal(t, uint64(0), gen, "below the threshold no checkpoint runs")

	slot, err := idx.Append(ctx, rng.UnitVector(testDim))
	require.NoError(t, err)
	require.NoError(t, table.Bind("card-4", slot))
	require.NoError(t, c.NoteInsert(ctx))

	gen, _ = c.Generation()
	assert.Equal(t, uint64(1), gen, "fifth insert triggers the checkpoint")
}

func TestCheckpointPrunesOldManifests(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	c, idx, table := newCoordinator(t, Config{Dir: dir})
	fill(t, idx, table, 2)

	require.NoError(t, c.Checkpoint(ctx))
	require.NoError(t, c.Checkpoint(ctx))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var manifests []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), manifest.FileNamePrefix+"-") {
			manifests = append(manifests, entry.Name())
		}
	}
	assert.Equal(t, []string{"MANIFEST-000002.json"}, manifests, "only the committed manifest survives")
}

func TestCheckpointTruncatesWAL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	w, err := wal.New(func(o *wal.Options) {
		o.Path = dir
		o.DurabilityMode = wal.DurabilitySync
	})
	require.NoError(t, err)
	defer w.Close()

	c, err := NewCoordinator(Config{Dir: dir, Dimension: testDim}, w)
	require.NoError(t, err)
	idx, table, err := c.Recover(ctx)
	require.NoError(t, err)

	rng := testutil.NewRNG(3)
	v := rng.UnitVector(testDim)
	slot, err := idx.Append(ctx, v)
	require.NoError(t, err)
	require.NoError(t, table.Bind("card-0", slot))
	require.NoError(t, w.Append(wal.OpAdd, "card-0", v))

	require.NoError(t, c.Checkpoint(ctx))

	_, walSeq := c.Generation()
	assert.Equal(t, uint64(1), walSeq)
	assert.Equal(t, uint64(0), w.SeqNum(), "WAL truncated after commit")
}

type fakeCommitter struct {
	manifests []string
}

func (f *fakeCommitter) Commit(_ context.Context, manifestName string) (uint64, error) {
	f.manifests = append(f.manifests, manifestName)
	return uint64(len(f.manifests)), nil
}

func TestCheckpointMirror(t *testing.T) {
	ctx := context.Background()

	mirror := blobstore.NewMemoryStore()
	committer := &fakeCommitter{}

	c, idx, table := newCoordinator(t, Config{
		Dir:        t.TempDir(),
		Mirror:     mirror,
		Committer:  committer,
		Controller: resource.NewController(resource.Config{MaxBackgroundJobs: 1}),
	})
	fill(t, idx, table, 8)
	require.NoError(t, c.Checkpoint(ctx))

	names, err := mirror.List(ctx, "gen-000001/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"gen-000001/index.vec",
		"gen-000001/mapping.bin",
		"gen-000001/MANIFEST-000001.json",
	}, names)

	require.Len(t, committer.manifests, 1)
	assert.Equal(t, "gen-000001/MANIFEST-000001.json", committer.manifests[0])
}
