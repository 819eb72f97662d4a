package price

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardexio/cardex/model"
)

const priceBody = `{
	"results": [{
		"productName": "Charizard",
		"setName": "Base Set",
		"categoryName": "Pokemon",
		"marketPrice": 420.5,
		"lowPrice": 350.0,
		"midPrice": 400.0,
		"highPrice": 500.0,
		"imageUrl": "https://img.example/charizard.jpg"
	}]
}`

func priceServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/product/12345/pricepoints":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, priceBody)
		case "/product/empty/pricepoints":
			fmt.Fprint(w, `{"results": []}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLookup(t *testing.T) {
	var hits atomic.Int64
	srv := priceServer(t, &hits)
	c := NewClient(srv.URL)

	p, err := c.Lookup(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, "Charizard", p.ProductName)
	assert.Equal(t, "Base Set", p.SetName)
	assert.Equal(t, 420.5, p.MarketPrice)
	assert.Equal(t, "https://img.example/charizard.jpg", p.ImageURL)
	assert.False(t, p.FetchedAt.IsZero())
}

func TestLookupCaches(t *testing.T) {
	var hits atomic.Int64
	srv := priceServer(t, &hits)
	c := NewClient(srv.URL)

	_, err := c.Lookup(context.Background(), "12345")
	require.NoError(t, err)
	_, err = c.Lookup(context.Background(), "12345")
	require.NoError(t, err)

	assert.Equal(t, int64(1), hits.Load())
}

func TestLookupTTLExpiry(t *testing.T) {
	var hits atomic.Int64
	srv := priceServer(t, &hits)
	c := NewClient(srv.URL)

	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.Lookup(context.Background(), "12345")
	require.NoError(t, err)

	now = now.Add(DefaultTTL + time.Second)
	_, err = c.Lookup(context.Background(), "12345")
	require.NoError(t, err)

	assert.Equal(t, int64(2), hits.Load())
}

func TestLookupNotFound(t *testing.T) {
	var hits atomic.Int64
	srv := priceServer(t, &hits)
	c := NewClient(srv.URL)

	_, err := c.Lookup(context.Background(), "99999")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Lookup(context.Background(), "empty")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.Lookup(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int64(2), hits.Load(), "empty id never reaches the provider")
}

func TestLookupServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Lookup(context.Background(), "12345")

	var unavailable *UnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestCategoryID(t *testing.T) {
	tests := []struct {
		category string
		id       int
		ok       bool
	}{
		{model.CategoryPokemon, 3, true},
		{model.CategoryMagic, 1, true},
		{model.CategoryYugioh, 2, true},
		{model.CategorySports, 72, true},
		{model.CategoryOnePiece, 84, true},
		{model.CategoryLorcana, 87, true},
		{model.CategoryFleshAndBlood, 73, true},
		{model.CategoryOther, 0, false},
		{"bogus", 0, false},
	}

	for _, tt := range tests {
		id, ok := CategoryID(tt.category)
		assert.Equal(t, tt.ok, ok, tt.category)
		assert.Equal(t, tt.id, id, tt.category)
	}
}
