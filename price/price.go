// Package price fetches live market prices for cards from the external
// price provider. Responses are cached with a TTL, identical concurrent
// lookups are collapsed, and outbound requests are rate limited.
package price

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/cardexio/cardex/codec"
	"github.com/cardexio/cardex/model"
)

// DefaultTTL is how long a fetched price stays fresh.
const DefaultTTL = time.Hour

// DefaultRequestsPerSecond is the default outbound rate limit.
const DefaultRequestsPerSecond = 10

// ErrNotFound is returned when the provider has no listing for the
// product.
var ErrNotFound = errors.New("price: product not found")

// UnavailableError reports that the provider could not be reached or
// answered with a server error.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("price provider unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// categoryIDs maps the internal category registry to the provider's
// numeric category identifiers.
var categoryIDs = map[string]int{
	model.CategoryPokemon:       3,
	model.CategoryMagic:         1,
	model.CategoryYugioh:        2,
	model.CategorySports:        72,
	model.CategoryOnePiece:      84,
	model.CategoryLorcana:       87,
	model.CategoryFleshAndBlood: 73,
}

// CategoryID returns the provider's numeric id for a category. Categories
// without a provider listing (e.g. "other") report ok=false.
func CategoryID(category string) (int, bool) {
	id, ok := categoryIDs[category]
	return id, ok
}

// Price is one product's price points.
type Price struct {
	ProductName  string    `json:"product_name"`
	SetName      string    `json:"set_name"`
	CategoryName string    `json:"category_name"`
	MarketPrice  float64   `json:"market_price"`
	LowPrice     float64   `json:"low_price"`
	MidPrice     float64   `json:"mid_price"`
	HighPrice    float64   `json:"high_price"`
	ImageURL     string    `json:"image_url"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Options configures the price client.
type Options struct {
	// HTTPClient performs the requests. Defaults to a client with a
	// 15 second timeout.
	HTTPClient *http.Client

	// TTL is the cache freshness window. Defaults to DefaultTTL.
	TTL time.Duration

	// RequestsPerSecond limits outbound lookups. Defaults to
	// DefaultRequestsPerSecond.
	RequestsPerSecond float64
}

// Client looks up prices with caching, request collapsing and rate
// limiting. Safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration
	limiter *rate.Limiter
	group   singleflight.Group

	mu    sync.RWMutex
	cache map[string]Price

	now func() time.Time // stubbed in tests
}

// NewClient creates a price client for the provider at baseURL.
func NewClient(baseURL string, optFns ...func(o *Options)) *Client {
	opts := Options{
		HTTPClient:        &http.Client{Timeout: 15 * time.Second},
		TTL:               DefaultTTL,
		RequestsPerSecond: DefaultRequestsPerSecond,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  opts.HTTPClient,
		ttl:     opts.TTL,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		cache:   make(map[string]Price),
		now:     time.Now,
	}
}

// Lookup returns price points for the product, from cache when fresh.
// Concurrent lookups for the same product share one provider request.
func (c *Client) Lookup(ctx context.Context, productID string) (Price, error) {
	if productID == "" {
		return Price{}, ErrNotFound
	}

	if p, ok := c.cached(productID); ok {
		return p, nil
	}

	v, err, _ := c.group.Do(productID, func() (any, error) {
		// A concurrent winner may have populated the cache while this
		// call waited on the flight group.
		if p, ok := c.cached(productID); ok {
			return p, nil
		}

		p, err := c.fetch(ctx, productID)
		if err != nil {
			return Price{}, err
		}

		c.mu.Lock()
		c.cache[productID] = p
		c.mu.Unlock()

		return p, nil
	})
	if err != nil {
		return Price{}, err
	}
	return v.(Price), nil
}

func (c *Client) cached(productID string) (Price, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.cache[productID]
	if !ok || c.now().Sub(p.FetchedAt) >= c.ttl {
		return Price{}, false
	}
	return p, true
}

func (c *Client) fetch(ctx context.Context, productID string) (Price, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Price{}, err
	}

	url := fmt.Sprintf("%s/product/%s/pricepoints", c.baseURL, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Price{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Price{}, &UnavailableError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Price{}, ErrNotFound
	case resp.StatusCode >= http.StatusInternalServerError:
		return Price{}, &UnavailableError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return Price{}, fmt.Errorf("price lookup failed: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Price{}, &UnavailableError{Err: err}
	}

	var payload struct {
		Results []struct {
			ProductName  string  `json:"productName"`
			SetName      string  `json:"setName"`
			CategoryName string  `json:"categoryName"`
			MarketPrice  float64 `json:"marketPrice"`
			LowPrice     float64 `json:"lowPrice"`
			MidPrice     float64 `json:"midPrice"`
			HighPrice    float64 `json:"highPrice"`
			ImageURL     string  `json:"imageUrl"`
		} `json:"results"`
	}
	if err := codec.Default.Unmarshal(data, &payload); err != nil {
		return Price{}, fmt.Errorf("failed to decode price response: %w", err)
	}
	if len(payload.Results) == 0 {
		return Price{}, ErrNotFound
	}

	r := payload.Results[0]
	return Price{
		ProductName:  r.ProductName,
		SetName:      r.SetName,
		CategoryName: r.CategoryName,
		MarketPrice:  r.MarketPrice,
		LowPrice:     r.LowPrice,
		MidPrice:     r.MidPrice,
		HighPrice:    r.HighPrice,
		ImageURL:     r.ImageURL,
		FetchedAt:    c.now(),
	}, nil
}
