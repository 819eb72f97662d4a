package flat

import (
	"bytes"
	"context"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardexio/cardex/index"
	"github.com/cardexio/cardex/model"
	"github.com/cardexio/cardex/testutil"
)

func TestFlat(t *testing.T) {
	ctx := context.Background()

	t.Run("Append", func(t *testing.T) {
		f, err := New(3)
		require.NoError(t, err)

		slot, err := f.Append(ctx, []float32{1, 0, 0})
		require.NoError(t, err)
		assert.Equal(t, model.Slot(0), slot)

		slot, err = f.Append(ctx, []float32{0, 1, 0})
		require.NoError(t, err)
		assert.Equal(t, model.Slot(1), slot)
		assert.Equal(t, 2, f.Len())

		_, err = f.Append(ctx, []float32{1, 0})
		assert.Error(t, err)
		assert.IsType(t, &index.ErrDimensionMismatch{}, err)
	})

	t.Run("SelfSimilarity", func(t *testing.T) {
		rng := testutil.NewRNG(42)
		f, err := New(16)
		require.NoError(t, err)

		vectors := rng.UnitVectors(10, 16)
		for _, v := range vectors {
			_, err := f.Append(ctx, v)
			require.NoError(t, err)
		}

		for i, v := range vectors {
			results, err := f.Search(ctx, v, 1, nil)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, model.Slot(i), results[0].Slot)
			assert.InDelta(t, 1.0, results[0].Score, 1e-4)
		}
	})

	t.Run("SearchOrdering", func(t *testing.T) {
		f, err := New(3)
		require.NoError(t, err)

		_, _ = f.Append(ctx, []float32{1, 0, 0})
		_, _ = f.Append(ctx, []float32{0, 1, 0})
		_, _ = f.Append(ctx, []float32{0, 0, 1})

		results, err := f.Search(ctx, []float32{0.9, 0.1, 0}, 2, nil)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, model.Slot(0), results[0].Slot)
		assert.Equal(t, model.Slot(1), results[1].Slot)
		assert.Greater(t, results[0].Score, results[1].Score)
	})

	t.Run("SearchEmptyIndex", func(t *testing.T) {
		f, err := New(3)
		require.NoError(t, err)

		results, err := f.Search(ctx, []float32{1, 0, 0}, 5, nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("SearchAllowlist", func(t *testing.T) {
		f, err := New(3)
		require.NoError(t, err)

		_, _ = f.Append(ctx, []float32{1, 0, 0})
		_, _ = f.Append(ctx, []float32{0.9, 0.1, 0})
		_, _ = f.Append(ctx, []float32{0, 1, 0})

		allow := roaring.BitmapOf(1, 2)
		results, err := f.Search(ctx, []float32{1, 0, 0}, 3, allow)
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, model.Slot(1), results[0].Slot)
		assert.Equal(t, model.Slot(2), results[1].Slot)
	})

	t.Run("ReplaceAt", func(t *testing.T) {
		f, err := New(3)
		require.NoError(t, err)

		slot, err := f.Append(ctx, []float32{1, 0, 0})
		require.NoError(t, err)

		require.NoError(t, f.ReplaceAt(ctx, slot, []float32{0, 1, 0}))
		assert.Equal(t, 1, f.Len())

		results, err := f.Search(ctx, []float32{0, 1, 0}, 1, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)

		err = f.ReplaceAt(ctx, model.Slot(7), []float32{0, 1, 0})
		assert.IsType(t, &index.ErrSlotOutOfRange{}, err)
	})

	t.Run("InvalidK", func(t *testing.T) {
		f, err := New(3)
		require.NoError(t, err)
		_, _ = f.Append(ctx, []float32{1, 0, 0})

		_, err = f.Search(ctx, []float32{1, 0, 0}, 0, nil)
		assert.ErrorIs(t, err, index.ErrInvalidK)
	})
}

func TestFlatSaveLoad(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(7)

	f, err := New(8)
	require.NoError(t, err)

	vectors := rng.UnitVectors(25, 8)
	for _, v := range vectors {
		_, err := f.Append(ctx, v)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, f.Save(&buf))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, f.Len(), loaded.Len())
	assert.Equal(t, f.Dimension(), loaded.Dimension())

	for i, v := range vectors {
		got, ok := loaded.VectorAt(model.Slot(i))
		require.True(t, ok)
		assert.Equal(t, v, got)
	}

	t.Run("CorruptMagic", func(t *testing.T) {
		_, err := Load(bytes.NewReader([]byte("BOGUS_HEADER_BYTES")))
		assert.Error(t, err)
	})

	t.Run("Truncated", func(t *testing.T) {
		var full bytes.Buffer
		require.NoError(t, f.Save(&full))
		_, err := Load(bytes.NewReader(full.Bytes()[:full.Len()/2]))
		assert.Error(t, err)
	})
}
