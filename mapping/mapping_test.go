package mapping

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardexio/cardex/model"
)

func TestTableBind(t *testing.T) {
	t.Run("Bijection", func(t *testing.T) {
		tbl := New()

		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("card-%d", i)
			require.NoError(t, tbl.Bind(id, model.Slot(i)))
		}
		assert.Equal(t, 10, tbl.Len())

		for i := 0; i < 10; i++ {
			id := fmt.Sprintf("card-%d", i)

			slot, ok := tbl.SlotOf(id)
			require.True(t, ok)
			assert.Equal(t, model.Slot(i), slot)

			got, ok := tbl.CardOf(model.Slot(i))
			require.True(t, ok)
			assert.Equal(t, id, got)
		}
	})

	t.Run("RebindSamePairIsNoop", func(t *testing.T) {
		tbl := New()
		require.NoError(t, tbl.Bind("card-a", 0))
		require.NoError(t, tbl.Bind("card-a", 0))
		assert.Equal(t, 1, tbl.Len())
	})

	t.Run("CardBoundToDifferentSlot", func(t *testing.T) {
		tbl := New()
		require.NoError(t, tbl.Bind("card-a", 0))

		err := tbl.Bind("card-a", 1)
		var conflict *ErrConflict
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "card-a", conflict.CardID)
		assert.Equal(t, model.Slot(0), conflict.ExistingSlot)
	})

	t.Run("SlotBoundToDifferentCard", func(t *testing.T) {
		tbl := New()
		require.NoError(t, tbl.Bind("card-a", 0))

		err := tbl.Bind("card-b", 0)
		var conflict *ErrConflict
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "card-a", conflict.ExistingID)
	})

	t.Run("Absent", func(t *testing.T) {
		tbl := New()
		_, ok := tbl.SlotOf("nope")
		assert.False(t, ok)
		_, ok = tbl.CardOf(3)
		assert.False(t, ok)
	})
}

func TestTableSaveLoad(t *testing.T) {
	tbl := New()
	for i := 0; i < 50; i++ {
		require.NoError(t, tbl.Bind(fmt.Sprintf("card-%d", i), model.Slot(i)))
	}

	var buf bytes.Buffer
	require.NoError(t, tbl.Save(&buf))

	loaded := New()
	require.NoError(t, loaded.Load(&buf))
	require.Equal(t, tbl.Len(), loaded.Len())

	tbl.Range(func(cardID string, slot model.Slot) bool {
		got, ok := loaded.SlotOf(cardID)
		require.True(t, ok)
		assert.Equal(t, slot, got)
		return true
	})

	t.Run("Truncated", func(t *testing.T) {
		var full bytes.Buffer
		require.NoError(t, tbl.Save(&full))

		broken := New()
		err := broken.Load(bytes.NewReader(full.Bytes()[:full.Len()/2]))
		assert.Error(t, err)
	})
}
