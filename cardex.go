package cardex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cardexio/cardex/blobstore"
	"github.com/cardexio/cardex/distance"
	"github.com/cardexio/cardex/hashindex"
	"github.com/cardexio/cardex/index/flat"
	"github.com/cardexio/cardex/mapping"
	"github.com/cardexio/cardex/matcher"
	"github.com/cardexio/cardex/metastore"
	"github.com/cardexio/cardex/model"
	"github.com/cardexio/cardex/persistence"
	"github.com/cardexio/cardex/postings"
	"github.com/cardexio/cardex/wal"
)

// MetadataFileName is the SQLite database file inside the data directory.
const MetadataFileName = "cards.db"

// CheckpointDirName is the checkpoint directory inside the data directory.
const CheckpointDirName = "checkpoint"

// Cardex is a hybrid card matching store: durable metadata in SQLite, an
// in-memory brute-force vector index for embedding similarity, and a
// perceptual-hash scan for exact-fingerprint matching. All methods are safe
// for concurrent use; writes serialize on an internal mutex while reads run
// against immutable index snapshots.
type Cardex struct {
	meta        *metastore.Store
	index       *flat.Index
	mapping     *mapping.Table
	postings    *postings.Set
	engine      *matcher.Engine
	log         *wal.WAL
	coordinator *persistence.Coordinator
	images      blobstore.Store
	logger      *Logger
	metrics     MetricsCollector
	dimension   int

	// writeMu serializes AddCard critical sections and checkpoints so a
	// snapshot never observes the index ahead of the mapping.
	writeMu sync.Mutex
	closed  atomic.Bool
}

// Open opens (creating if needed) the store in dataDir: it opens the SQLite
// metadata store, loads the committed checkpoint, replays the write-ahead
// log and rebuilds the category posting lists.
func Open(ctx context.Context, dataDir string, optFns ...Option) (*Cardex, error) {
	opts := applyOptions(optFns)

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	meta, err := metastore.Open(filepath.Join(dataDir, MetadataFileName))
	if err != nil {
		return nil, translateError(err)
	}

	var w *wal.WAL
	if opts.walEnabled {
		w, err = wal.New(func(o *wal.Options) {
			for _, fn := range opts.walOptions {
				fn(o)
			}
			o.Path = dataDir
		})
		if err != nil {
			_ = meta.Close()
			return nil, fmt.Errorf("failed to open WAL: %w", err)
		}
	}

	coordinator, err := persistence.NewCoordinator(persistence.Config{
		Dir:              filepath.Join(dataDir, CheckpointDirName),
		Dimension:        opts.dimension,
		CheckpointEveryN: opts.checkpointEveryN,
		Compression:      opts.compression,
		Controller:       opts.controller,
		Mirror:           opts.mirror,
		Committer:        opts.committer,
		Logger:           opts.logger.Logger,
	}, w)
	if err != nil {
		closeQuietly(meta, w)
		return nil, err
	}

	idx, table, err := coordinator.Recover(ctx)
	if err != nil {
		closeQuietly(meta, w)
		return nil, err
	}

	replayed := 0
	if w != nil {
		replayed, err = replayWAL(ctx, w, idx, table)
		if err != nil {
			closeQuietly(meta, w)
			opts.logger.LogRecovery(ctx, 0, 0, replayed, err)
			return nil, err
		}
	}

	post := postings.New()
	err = meta.ScanCategories(ctx, func(cardID, category string) error {
		if slot, ok := table.SlotOf(cardID); ok {
			post.Add(category, slot)
		}
		return nil
	})
	if err != nil {
		closeQuietly(meta, w)
		return nil, translateError(err)
	}

	c := &Cardex{
		meta:        meta,
		index:       idx,
		mapping:     table,
		postings:    post,
		engine:      matcher.New(meta, idx, table, hashindex.NewScanner(meta), post, opts.logger.Logger),
		log:         w,
		coordinator: coordinator,
		images:      opts.images,
		logger:      opts.logger,
		metrics:     opts.metricsCollector,
		dimension:   opts.dimension,
	}

	generation, _ := coordinator.Generation()
	c.logger.LogRecovery(ctx, generation, idx.Len(), replayed, nil)

	return c, nil
}

// replayWAL applies logged inserts the last checkpoint missed. Entries for
// cards already bound overwrite their slot, so a crash between manifest
// commit and log truncation replays idempotently.
func replayWAL(ctx context.Context, w *wal.WAL, idx *flat.Index, table *mapping.Table) (int, error) {
	replayed := 0
	err := w.Replay(func(e *wal.Entry) error {
		if slot, ok := table.SlotOf(e.CardID); ok {
			if err := idx.ReplaceAt(ctx, slot, e.Vector); err != nil {
				return err
			}
		} else {
			slot, err := idx.Append(ctx, e.Vector)
			if err != nil {
				return err
			}
			if err := table.Bind(e.CardID, slot); err != nil {
				return err
			}
		}
		replayed++
		return nil
	})
	if err != nil {
		return replayed, fmt.Errorf("WAL replay failed: %w", err)
	}
	return replayed, nil
}

func closeQuietly(meta *metastore.Store, w *wal.WAL) {
	_ = meta.Close()
	if w != nil {
		_ = w.Close()
	}
}

// AddCard registers or updates a card and, when embedding is non-empty,
// indexes it for similarity search. An empty card.ID gets a generated UUID.
// Re-adding an existing ID overwrites its metadata and replaces its
// embedding in place; index slots are never reused.
//
// The returned card carries the assigned ID and the stored timestamps.
func (c *Cardex) AddCard(ctx context.Context, card model.Card, embedding []float32) (model.Card, error) {
	start := time.Now()

	stored, indexed, err := c.addCard(ctx, card, embedding)

	err = translateError(err)
	c.metrics.RecordAddCard(time.Since(start), err)
	c.logger.LogAddCard(ctx, stored.ID, indexed, err)

	return stored, err
}

func (c *Cardex) addCard(ctx context.Context, card model.Card, embedding []float32) (model.Card, bool, error) {
	if c.closed.Load() {
		return card, false, ErrClosed
	}

	// Validate everything before touching durable state.
	if !model.ValidCategory(card.Category) {
		return card, false, &ErrInvalidCategory{Category: card.Category}
	}
	if card.PerceptualHash != "" {
		if _, err := hashindex.ParseHash(card.PerceptualHash); err != nil {
			return card, false, err
		}
	}
	var normalized []float32
	if len(embedding) > 0 {
		if len(embedding) != c.dimension {
			return card, false, &ErrDimensionMismatch{Expected: c.dimension, Actual: len(embedding)}
		}
		var ok bool
		if normalized, ok = distance.NormalizeL2Copy(embedding); !ok {
			return card, false, ErrZeroVector
		}
	}

	if card.ID == "" {
		card.ID = uuid.NewString()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.meta.Put(ctx, card); err != nil {
		return card, false, err
	}

	if normalized != nil {
		if err := c.indexLocked(ctx, card, normalized); err != nil {
			return card, false, err
		}
	}

	stored, err := c.meta.Get(ctx, card.ID)
	if err != nil {
		return card, normalized != nil, err
	}
	return stored, normalized != nil, nil
}

// indexLocked applies one embedding insert under writeMu: log, index,
// bind, postings, then the checkpoint trigger.
func (c *Cardex) indexLocked(ctx context.Context, card model.Card, normalized []float32) error {
	slot, bound := c.mapping.SlotOf(card.ID)

	op := wal.OpAdd
	if bound {
		op = wal.OpReplace
	}
	if c.log != nil {
		if err := c.log.Append(op, card.ID, normalized); err != nil {
			return fmt.Errorf("failed to log insert: %w", err)
		}
	}

	if bound {
		if err := c.index.ReplaceAt(ctx, slot, normalized); err != nil {
			return err
		}
	} else {
		var err error
		if slot, err = c.index.Append(ctx, normalized); err != nil {
			return err
		}
		if err = c.mapping.Bind(card.ID, slot); err != nil {
			return err
		}
	}
	c.postings.Add(card.Category, slot)

	return c.coordinator.NoteInsert(ctx)
}

// FindMatches runs the hybrid similarity query: embedding search and
// perceptual-hash search fan out concurrently and merge into one ranked,
// deduplicated candidate list.
func (c *Cardex) FindMatches(ctx context.Context, q matcher.Query, optFns ...matcher.Option) (matcher.Result, error) {
	start := time.Now()

	var result matcher.Result
	var err error
	if c.closed.Load() {
		err = ErrClosed
	} else {
		result, err = c.engine.FindMatches(ctx, q, optFns...)
	}

	err = translateError(err)
	c.metrics.RecordFindMatches(len(result.Candidates), time.Since(start), err)
	c.logger.LogFindMatches(ctx, len(result.Attempted), len(result.Candidates), err)

	return result, err
}

// GetCard returns the card with the given id.
func (c *Cardex) GetCard(ctx context.Context, id string) (model.Card, error) {
	if c.closed.Load() {
		return model.Card{}, ErrClosed
	}
	card, err := c.meta.Get(ctx, id)
	return card, translateError(err)
}

// CardsByCategory returns up to limit cards in the category, in insertion
// order.
func (c *Cardex) CardsByCategory(ctx context.Context, category string, limit int) ([]model.Card, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	cards, err := c.meta.ListByCategory(ctx, category, limit)
	return cards, translateError(err)
}

// SearchByName returns up to limit cards whose name contains q,
// case-insensitive, newest first. A non-empty category restricts the
// result before the limit applies.
func (c *Cardex) SearchByName(ctx context.Context, q, category string, limit int) ([]model.Card, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	cards, err := c.meta.SearchByName(ctx, q, category, limit)
	return cards, translateError(err)
}

// StoreImage writes a card image to the configured image store and stamps
// the card's ImageRef with the blob key.
func (c *Cardex) StoreImage(ctx context.Context, cardID string, data []byte, contentType string) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	if c.images == nil {
		return "", errors.New("no image store configured")
	}

	card, err := c.meta.Get(ctx, cardID)
	if err != nil {
		err = translateError(err)
		c.logger.LogStoreImage(ctx, cardID, "", len(data), err)
		return "", err
	}

	key := "images/" + cardID + imageExt(contentType)
	if err := c.images.Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
		c.logger.LogStoreImage(ctx, cardID, key, len(data), err)
		return "", fmt.Errorf("failed to store image: %w", err)
	}

	card.ImageRef = key
	if err := c.meta.Put(ctx, card); err != nil {
		err = translateError(err)
		c.logger.LogStoreImage(ctx, cardID, key, len(data), err)
		return "", err
	}

	c.logger.LogStoreImage(ctx, cardID, key, len(data), nil)
	return key, nil
}

func imageExt(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}

// Stats returns a point-in-time summary of the store.
func (c *Cardex) Stats(ctx context.Context) (Stats, error) {
	if c.closed.Load() {
		return Stats{}, ErrClosed
	}

	total, err := c.meta.Count(ctx)
	if err != nil {
		return Stats{}, translateError(err)
	}
	byCategory, err := c.meta.CountByCategory(ctx)
	if err != nil {
		return Stats{}, translateError(err)
	}

	generation, _ := c.coordinator.Generation()

	s := Stats{
		TotalCards:           total,
		IndexSize:            c.index.Len(),
		MappedCards:          c.mapping.Len(),
		Dimension:            c.dimension,
		ByCategory:           byCategory,
		CheckpointGeneration: generation,
		LastCheckpoint:       c.coordinator.LastCheckpoint(),
	}
	if c.log != nil {
		s.WALSeq = c.log.SeqNum()
	}
	return s, nil
}

// Checkpoint persists the index and mapping as a new committed generation
// and truncates the write-ahead log.
func (c *Cardex) Checkpoint(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.checkpoint(ctx)
}

func (c *Cardex) checkpoint(ctx context.Context) error {
	start := time.Now()

	c.writeMu.Lock()
	err := c.coordinator.Checkpoint(ctx)
	c.writeMu.Unlock()

	generation, _ := c.coordinator.Generation()
	c.metrics.RecordCheckpoint(time.Since(start), err)
	c.logger.LogCheckpoint(ctx, generation, c.index.Len(), err)

	return err
}

// Close commits a final checkpoint and releases the WAL and metadata
// store. Close is idempotent; operations after Close fail with ErrClosed.
func (c *Cardex) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if err := c.checkpoint(ctx); err != nil {
		errs = append(errs, fmt.Errorf("final checkpoint failed: %w", err))
	}
	if c.log != nil {
		if err := c.log.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close WAL: %w", err))
		}
	}
	if err := c.meta.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close metadata store: %w", err))
	}

	return errors.Join(errs...)
}
