package embed

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardexio/cardex/codec"
)

func embedServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/embed", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NotEmpty(t, body)

		vec := make([]float32, dim)
		vec[0] = 1

		data, err := codec.Default.Marshal(map[string]any{"embedding": vec})
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbed(t *testing.T) {
	srv := embedServer(t, 8)
	e := NewHTTPEmbedder(srv.URL, func(o *HTTPOptions) { o.Dimension = 8 })

	vec, err := e.Embed(context.Background(), []byte("image-bytes"))
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, float32(1), vec[0])
	assert.Equal(t, 8, e.Dimension())
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := embedServer(t, 4)
	e := NewHTTPEmbedder(srv.URL, func(o *HTTPOptions) { o.Dimension = 8 })

	_, err := e.Embed(context.Background(), []byte("image-bytes"))
	assert.ErrorContains(t, err, "dimension")
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL)
	_, err := e.Embed(context.Background(), []byte("image-bytes"))

	var unavailable *UnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestEmbedBadRequestIsNotDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unsupported image", http.StatusBadRequest)
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL)
	_, err := e.Embed(context.Background(), []byte("image-bytes"))
	require.Error(t, err)

	var unavailable *UnavailableError
	assert.False(t, errors.As(err, &unavailable))
	assert.ErrorContains(t, err, "unsupported image")
}

func TestEmbedUnreachable(t *testing.T) {
	e := NewHTTPEmbedder("http://127.0.0.1:1")
	_, err := e.Embed(context.Background(), []byte("image-bytes"))

	var unavailable *UnavailableError
	assert.ErrorAs(t, err, &unavailable)
}
