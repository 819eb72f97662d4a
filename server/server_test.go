package server_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cardex "github.com/cardexio/cardex"
	"github.com/cardexio/cardex/blobstore"
	"github.com/cardexio/cardex/codec"
	"github.com/cardexio/cardex/embed"
	"github.com/cardexio/cardex/hashindex"
	"github.com/cardexio/cardex/model"
	"github.com/cardexio/cardex/phash"
	"github.com/cardexio/cardex/price"
	"github.com/cardexio/cardex/server"
	"github.com/cardexio/cardex/testutil"
)

const testDim = 8

// stubEmbedder returns a fixed vector, or a configured error.
type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, _ []byte) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func (s *stubEmbedder) Dimension() int { return testDim }

func newTestDB(t *testing.T, optFns ...cardex.Option) *cardex.Cardex {
	t.Helper()

	opts := append([]cardex.Option{cardex.WithDimension(testDim)}, optFns...)
	db, err := cardex.Open(context.Background(), t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(context.Background()) })
	return db
}

func testImage(t *testing.T) []byte {
	t.Helper()

	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 8)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// multipartBody builds a multipart form with optional fields and an image
// part.
func multipartBody(t *testing.T, fields map[string]string, imageData []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if imageData != nil {
		fw, err := mw.CreateFormFile("image", "card.png")
		require.NoError(t, err)
		_, err = fw.Write(imageData)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doRequest(t *testing.T, h http.Handler, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, codec.Default.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	db := newTestDB(t)
	s := server.New(db, nil, nil)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestRecognizeHashOnly(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	img := testImage(t)

	hash, err := phash.FromBytes(img)
	require.NoError(t, err)
	_, err = db.AddCard(ctx, model.Card{
		ID:             "card-1",
		Name:           "Charizard",
		Category:       model.CategoryPokemon,
		PerceptualHash: hashindex.FormatHash(hash),
	}, nil)
	require.NoError(t, err)

	s := server.New(db, nil, nil)
	body, contentType := multipartBody(t, nil, img)
	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/recognize", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Candidates []struct {
			Name string `json:"name"`
			Kind string `json:"match_kind"`
		} `json:"candidates"`
		Degraded bool `json:"degraded"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "Charizard", resp.Candidates[0].Name)
	assert.Equal(t, "hash", resp.Candidates[0].Kind)
	assert.False(t, resp.Degraded)
}

func TestRecognizeWithEmbedding(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rng := testutil.NewRNG(1)

	vec := rng.UnitVector(testDim)
	_, err := db.AddCard(ctx, model.Card{
		ID:       "card-emb",
		Name:     "Blastoise",
		Category: model.CategoryPokemon,
	}, vec)
	require.NoError(t, err)

	s := server.New(db, &stubEmbedder{vec: vec}, nil)
	body, contentType := multipartBody(t, nil, testImage(t))
	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/recognize", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Candidates []struct {
			Name string `json:"name"`
			Kind string `json:"match_kind"`
		} `json:"candidates"`
		Attempted []string `json:"attempted"`
		Degraded  bool     `json:"degraded"`
	}
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.Candidates)
	assert.Equal(t, "Blastoise", resp.Candidates[0].Name)
	assert.Equal(t, "embedding", resp.Candidates[0].Kind)
	assert.Contains(t, resp.Attempted, "embedding")
	assert.False(t, resp.Degraded)
}

func TestRecognizeDegradesWhenEmbedderDown(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	img := testImage(t)

	hash, err := phash.FromBytes(img)
	require.NoError(t, err)
	_, err = db.AddCard(ctx, model.Card{
		ID:             "card-h",
		Name:           "Venusaur",
		Category:       model.CategoryPokemon,
		PerceptualHash: hashindex.FormatHash(hash),
	}, nil)
	require.NoError(t, err)

	broken := &stubEmbedder{err: &embed.UnavailableError{Err: fmt.Errorf("connection refused")}}
	s := server.New(db, broken, nil)

	body, contentType := multipartBody(t, nil, img)
	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/recognize", body, contentType)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Candidates []struct {
			Name string `json:"name"`
		} `json:"candidates"`
		Attempted []string `json:"attempted"`
		Degraded  bool     `json:"degraded"`
	}
	decodeBody(t, rec, &resp)
	assert.True(t, resp.Degraded)
	assert.Equal(t, []string{"hash"}, resp.Attempted)
	require.Len(t, resp.Candidates, 1)
	assert.Equal(t, "Venusaur", resp.Candidates[0].Name)
}

func TestRecognizeRejectsBadUpload(t *testing.T) {
	db := newTestDB(t)
	s := server.New(db, nil, nil)

	t.Run("missing image", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"top_k": "3"}, nil)
		rec := doRequest(t, s.Handler(), http.MethodPost, "/api/recognize", body, contentType)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not an image", func(t *testing.T) {
		body, contentType := multipartBody(t, nil, []byte("plain text"))
		rec := doRequest(t, s.Handler(), http.MethodPost, "/api/recognize", body, contentType)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad category", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"category": "vintage"}, testImage(t))
		rec := doRequest(t, s.Handler(), http.MethodPost, "/api/recognize", body, contentType)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestIdentifyNoMatch(t *testing.T) {
	db := newTestDB(t)
	s := server.New(db, nil, nil)

	body, contentType := multipartBody(t, nil, testImage(t))
	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/identify", body, contentType)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	_, err := db.AddCard(ctx, model.Card{Name: "Charizard", Category: model.CategoryPokemon}, nil)
	require.NoError(t, err)
	_, err = db.AddCard(ctx, model.Card{Name: "Charizard ex", Category: model.CategoryMagic}, nil)
	require.NoError(t, err)

	s := server.New(db, nil, nil)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/search?q=charizard", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count int `json:"count"`
	}
	decodeBody(t, rec, &resp)
	assert.Equal(t, 2, resp.Count)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/api/search?q=charizard&category=pokemon", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)

	// The newest match is the magic card; a filtered page of one must
	// still find the pokemon card behind it.
	rec = doRequest(t, s.Handler(), http.MethodGet, "/api/search?q=charizard&category=pokemon&limit=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/api/search?q=charizard&category=disco", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/api/search", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPriceEndpoint(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/product/42/pricepoints" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"results":[{"productName":"Charizard","marketPrice":100.5}]}`)
	}))
	defer provider.Close()

	db := newTestDB(t)
	s := server.New(db, nil, price.NewClient(provider.URL))

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/price/42", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p price.Price
	decodeBody(t, rec, &p)
	assert.Equal(t, "Charizard", p.ProductName)
	assert.Equal(t, 100.5, p.MarketPrice)

	rec = doRequest(t, s.Handler(), http.MethodGet, "/api/price/404", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPriceEndpointUnconfigured(t *testing.T) {
	db := newTestDB(t)
	s := server.New(db, nil, nil)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/price/42", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDatabaseAdd(t *testing.T) {
	db := newTestDB(t, cardex.WithImageStore(blobstore.NewMemoryStore()))
	s := server.New(db, nil, nil)

	body, contentType := multipartBody(t, map[string]string{
		"name":              "Pikachu",
		"set_name":          "Jungle",
		"category":          "pokemon",
		"external_price_id": "777",
	}, testImage(t))
	rec := doRequest(t, s.Handler(), http.MethodPost, "/api/database/add", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Card struct {
			ID             string `json:"card_id"`
			Name           string `json:"name"`
			PerceptualHash string `json:"perceptual_hash"`
			ImageRef       string `json:"image_ref"`
		} `json:"card"`
		Indexed bool `json:"indexed"`
	}
	decodeBody(t, rec, &resp)
	assert.NotEmpty(t, resp.Card.ID)
	assert.Equal(t, "Pikachu", resp.Card.Name)
	assert.Len(t, resp.Card.PerceptualHash, hashindex.HashHexLen)
	assert.NotEmpty(t, resp.Card.ImageRef)
	assert.False(t, resp.Indexed, "no embedder configured")
}

func TestDatabaseAddValidation(t *testing.T) {
	db := newTestDB(t)
	s := server.New(db, nil, nil)

	t.Run("missing name", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"category": "pokemon"}, nil)
		rec := doRequest(t, s.Handler(), http.MethodPost, "/api/database/add", body, contentType)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad category", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"name": "x", "category": "vintage"}, nil)
		rec := doRequest(t, s.Handler(), http.MethodPost, "/api/database/add", body, contentType)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDatabaseStats(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	rng := testutil.NewRNG(2)
	_, err := db.AddCard(ctx, model.Card{Name: "x", Category: model.CategoryOther}, rng.UnitVector(testDim))
	require.NoError(t, err)

	s := server.New(db, nil, nil)
	rec := doRequest(t, s.Handler(), http.MethodGet, "/api/database/stats", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats cardex.Stats
	decodeBody(t, rec, &stats)
	assert.Equal(t, int64(1), stats.TotalCards)
	assert.Equal(t, 1, stats.IndexSize)
	assert.Equal(t, testDim, stats.Dimension)
}

func TestMetricsEndpoint(t *testing.T) {
	db := newTestDB(t)
	s := server.New(db, nil, nil)

	rec := doRequest(t, s.Handler(), http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
