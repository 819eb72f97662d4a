package postings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardexio/cardex/model"
)

func TestSet(t *testing.T) {
	s := New()

	s.Add(model.CategoryPokemon, 0)
	s.Add(model.CategoryPokemon, 2)
	s.Add(model.CategoryMagic, 1)

	t.Run("Bitmap", func(t *testing.T) {
		bm, ok := s.Bitmap(model.CategoryPokemon)
		require.True(t, ok)
		assert.True(t, bm.Contains(0))
		assert.False(t, bm.Contains(1))
		assert.True(t, bm.Contains(2))
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		_, ok := s.Bitmap(model.CategorySports)
		assert.False(t, ok)
		assert.Zero(t, s.Cardinality(model.CategorySports))
	})

	t.Run("Cardinality", func(t *testing.T) {
		assert.Equal(t, uint64(2), s.Cardinality(model.CategoryPokemon))
		assert.Equal(t, uint64(1), s.Cardinality(model.CategoryMagic))
	})

	t.Run("BitmapIsACopy", func(t *testing.T) {
		bm, ok := s.Bitmap(model.CategoryMagic)
		require.True(t, ok)
		bm.Add(99)

		fresh, ok := s.Bitmap(model.CategoryMagic)
		require.True(t, ok)
		assert.False(t, fresh.Contains(99))
	})
}
