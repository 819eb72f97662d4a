// Package embed produces card-image embeddings by calling an external
// inference service. The service owns the model; this package owns the
// transport, validation and degraded-mode signaling.
package embed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cardexio/cardex/codec"
)

// DefaultDimension is the embedding size of the default card model.
const DefaultDimension = 2048

// Embedder turns an encoded card image into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
	Dimension() int
}

// UnavailableError reports that the embedding service could not be
// reached or answered with a server error. Callers degrade to hash-only
// matching instead of failing the request.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("embedding service unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// HTTPOptions configures the HTTP embedder.
type HTTPOptions struct {
	// HTTPClient performs the requests. Defaults to a client with a
	// 30 second timeout.
	HTTPClient *http.Client

	// Dimension is the expected embedding size. Defaults to
	// DefaultDimension.
	Dimension int
}

// HTTPEmbedder calls POST {base}/embed with the raw image bytes and reads
// back {"embedding": [...]}.
type HTTPEmbedder struct {
	baseURL   string
	client    *http.Client
	dimension int
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder creates an embedder for the service at baseURL.
func NewHTTPEmbedder(baseURL string, optFns ...func(o *HTTPOptions)) *HTTPEmbedder {
	opts := HTTPOptions{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Dimension:  DefaultDimension,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &HTTPEmbedder{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    opts.HTTPClient,
		dimension: opts.Dimension,
	}
}

// Dimension returns the expected embedding size.
func (e *HTTPEmbedder) Dimension() int {
	return e.dimension
}

// Embed requests an embedding for the encoded image.
func (e *HTTPEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(image))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &UnavailableError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding request rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}

	var payload struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := codec.Default.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if len(payload.Embedding) != e.dimension {
		return nil, fmt.Errorf("embedding has dimension %d, expected %d", len(payload.Embedding), e.dimension)
	}

	return payload.Embedding, nil
}
