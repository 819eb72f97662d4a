// Package matcher coordinates the vector index and the hash scanner into a
// single ranked, deduplicated candidate list.
package matcher

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/cardexio/cardex/distance"
	"github.com/cardexio/cardex/hashindex"
	"github.com/cardexio/cardex/index"
	"github.com/cardexio/cardex/mapping"
	"github.com/cardexio/cardex/metastore"
	"github.com/cardexio/cardex/model"
	"github.com/cardexio/cardex/postings"
)

const (
	// DefaultTopK is the default number of candidates returned.
	DefaultTopK = 5

	// DefaultThreshold is the default minimum cosine similarity for an
	// embedding match.
	DefaultThreshold = 0.7

	// DefaultMaxHashDistance is the default Hamming bound for hash matches.
	DefaultMaxHashDistance = 5

	// HashMatchScore is the fixed confidence assigned to hash matches.
	// Hash hits are exact-fingerprint matches, weighted above approximate
	// embedding matches unless the same card already matched by embedding.
	HashMatchScore = 0.9
)

// ErrZeroVector is returned when the query embedding has zero L2 norm and
// cannot be normalized.
var ErrZeroVector = errors.New("matcher: query embedding has zero norm")

// Query carries the similarity inputs. Either or both may be set; with
// neither set, FindMatches returns an empty result.
type Query struct {
	Embedding []float32
	Hash      string
}

// Options tune a single FindMatches call.
type Options struct {
	TopK            int
	Threshold       float32
	MaxHashDistance int

	// Category restricts candidates to one category. Empty means all.
	Category string
}

// Option mutates Options.
type Option func(*Options)

// WithTopK sets the maximum number of candidates returned.
func WithTopK(k int) Option {
	return func(o *Options) { o.TopK = k }
}

// WithThreshold sets the minimum similarity for embedding matches.
func WithThreshold(threshold float32) Option {
	return func(o *Options) { o.Threshold = threshold }
}

// WithMaxHashDistance sets the Hamming bound for hash matches.
func WithMaxHashDistance(d int) Option {
	return func(o *Options) { o.MaxHashDistance = d }
}

// WithCategory restricts candidates to one category.
func WithCategory(category string) Option {
	return func(o *Options) { o.Category = category }
}

func applyOptions(optFns []Option) Options {
	o := Options{
		TopK:            DefaultTopK,
		Threshold:       DefaultThreshold,
		MaxHashDistance: DefaultMaxHashDistance,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	return o
}

// Result is the outcome of one FindMatches call. Attempted reports which
// match kinds actually ran, so callers can tell a full miss from a degraded
// (hash-only) search.
type Result struct {
	Candidates []model.Match     `json:"candidates"`
	Attempted  []model.MatchKind `json:"attempted"`
}

// Engine fans a query out to the vector index and the hash scanner, then
// merges the two ranked lists.
type Engine struct {
	store    *metastore.Store
	index    index.Index
	mapping  *mapping.Table
	hashes   *hashindex.Scanner
	postings *postings.Set
	logger   *slog.Logger
}

// New creates an Engine. postings may be nil to disable category filtering
// of embedding searches; logger may be nil.
func New(store *metastore.Store, idx index.Index, table *mapping.Table, hashes *hashindex.Scanner, post *postings.Set, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		store:    store,
		index:    idx,
		mapping:  table,
		hashes:   hashes,
		postings: post,
		logger:   logger,
	}
}

// FindMatches runs the hybrid search. The embedding and hash branches run
// concurrently; results are merged so a card matched by embedding is never
// duplicated by a hash match, ordered by score descending and truncated to
// TopK.
func (e *Engine) FindMatches(ctx context.Context, q Query, optFns ...Option) (Result, error) {
	opts := applyOptions(optFns)

	if len(q.Embedding) == 0 && q.Hash == "" {
		return Result{}, nil
	}

	// Validate inputs before fanning out, so a malformed query never does
	// half the work.
	var queryHash uint64
	if q.Hash != "" {
		var err error
		if queryHash, err = hashindex.ParseHash(q.Hash); err != nil {
			return Result{}, err
		}
	}
	var queryVec []float32
	if len(q.Embedding) > 0 {
		var ok bool
		if queryVec, ok = distance.NormalizeL2Copy(q.Embedding); !ok {
			return Result{}, ErrZeroVector
		}
	}

	var (
		mu        sync.Mutex
		embedding []model.Match
		hash      []model.Match
		attempted []model.MatchKind
	)

	g, gctx := errgroup.WithContext(ctx)

	if queryVec != nil {
		attempted = append(attempted, model.MatchKindEmbedding)
		g.Go(func() error {
			matches, err := e.searchEmbedding(gctx, queryVec, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			embedding = matches
			mu.Unlock()
			return nil
		})
	}

	if q.Hash != "" {
		attempted = append(attempted, model.MatchKindHash)
		g.Go(func() error {
			matches, err := e.searchHash(gctx, queryHash, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			hash = matches
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{
		Candidates: mergeMatches(embedding, hash, opts.TopK),
		Attempted:  attempted,
	}, nil
}

func (e *Engine) searchEmbedding(ctx context.Context, query []float32, opts Options) ([]model.Match, error) {
	var allow *roaring.Bitmap
	if opts.Category != "" && e.postings != nil {
		bm, ok := e.postings.Bitmap(opts.Category)
		if !ok {
			// No indexed slots in this category.
			return nil, nil
		}
		allow = bm
	}

	candidates, err := e.index.Search(ctx, query, opts.TopK, allow)
	if err != nil {
		return nil, err
	}

	matches := make([]model.Match, 0, len(candidates))
	for _, c := range candidates {
		if c.Score < opts.Threshold {
			continue
		}

		cardID, ok := e.mapping.CardOf(c.Slot)
		if !ok {
			// A slot with no binding means the snapshot and mapping drifted.
			// Surface it in the log and keep going.
			e.logger.WarnContext(ctx, "slot has no card binding", "slot", uint32(c.Slot))
			continue
		}

		card, err := e.store.Get(ctx, cardID)
		if errors.Is(err, metastore.ErrNotFound) {
			e.logger.WarnContext(ctx, "mapped card missing from metadata store", "card_id", cardID, "slot", uint32(c.Slot))
			continue
		}
		if err != nil {
			return nil, err
		}
		// The postings bitmap can hold stale bits after a re-add moved the
		// card to another category; the stored record decides.
		if opts.Category != "" && card.Category != opts.Category {
			continue
		}

		matches = append(matches, model.Match{
			Card:  card,
			Score: c.Score,
			Kind:  model.MatchKindEmbedding,
		})
	}

	return matches, nil
}

func (e *Engine) searchHash(ctx context.Context, queryHash uint64, opts Options) ([]model.Match, error) {
	hits, err := e.hashes.FindWithin(ctx, queryHash, opts.MaxHashDistance)
	if err != nil {
		return nil, err
	}

	matches := make([]model.Match, 0, len(hits))
	for _, hit := range hits {
		card, err := e.store.Get(ctx, hit.CardID)
		if errors.Is(err, metastore.ErrNotFound) {
			e.logger.WarnContext(ctx, "hashed card missing from metadata store", "card_id", hit.CardID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if opts.Category != "" && card.Category != opts.Category {
			continue
		}

		matches = append(matches, model.Match{
			Card:  card,
			Score: HashMatchScore,
			Kind:  model.MatchKindHash,
		})
	}

	return matches, nil
}

// mergeMatches combines the two branches. An embedding match wins over a
// hash match for the same card and keeps its score.
func mergeMatches(embedding, hash []model.Match, topK int) []model.Match {
	merged := make([]model.Match, 0, len(embedding)+len(hash))
	seen := make(map[string]struct{}, len(embedding))

	for _, m := range embedding {
		merged = append(merged, m)
		seen[m.ID] = struct{}{}
	}
	for _, m := range hash {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		merged = append(merged, m)
		seen[m.ID] = struct{}{}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}
