// Package persistence coordinates joint checkpoints of the vector index
// and the slot mapping. The two files always commit together under one
// manifest generation, so recovery never observes an index ahead of its
// mapping.
package persistence

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cardexio/cardex/blobstore"
	"github.com/cardexio/cardex/index/flat"
	"github.com/cardexio/cardex/internal/hash"
	"github.com/cardexio/cardex/manifest"
	"github.com/cardexio/cardex/mapping"
	"github.com/cardexio/cardex/resource"
	"github.com/cardexio/cardex/wal"
)

// Checkpoint artifact names inside the checkpoint directory.
const (
	IndexFileName   = "index.vec"
	MappingFileName = "mapping.bin"
)

// DefaultCheckpointEveryN is the insert count between automatic checkpoints.
const DefaultCheckpointEveryN = 100

// Committer records a committed mirror generation, typically backed by a
// DynamoDB conditional write.
type Committer interface {
	Commit(ctx context.Context, manifestName string) (uint64, error)
}

// Config configures the checkpoint coordinator.
type Config struct {
	// Dir is the checkpoint directory.
	Dir string

	// Dimension is the expected vector dimensionality, used to create the
	// empty index on a fresh directory and validated against recovered
	// checkpoints.
	Dimension int

	// CheckpointEveryN triggers an automatic checkpoint after this many
	// inserts. Defaults to DefaultCheckpointEveryN.
	CheckpointEveryN int

	// Compression names the artifact compression: none, zstd or lz4.
	// Defaults to none. Recovery always follows the manifest, not this.
	Compression string

	// Controller paces checkpoint IO when set.
	Controller *resource.Controller

	// Mirror uploads committed checkpoints to object storage when set.
	Mirror blobstore.Store

	// Committer records mirror generations. Only used with Mirror.
	Committer Committer

	// Logger receives checkpoint and recovery events.
	Logger *slog.Logger
}

// Coordinator owns the checkpoint directory and the every-N trigger.
type Coordinator struct {
	cfg       Config
	manifests *manifest.Store
	log       *wal.WAL
	logger    *slog.Logger

	mu      sync.Mutex
	index   *flat.Index
	table   *mapping.Table
	current manifest.Manifest
	inserts int
}

// NewCoordinator creates a coordinator over dir. w may be nil when the
// write-ahead log is disabled.
func NewCoordinator(cfg Config, w *wal.WAL) (*Coordinator, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("persistence: invalid dimension %d", cfg.Dimension)
	}
	if cfg.CheckpointEveryN <= 0 {
		cfg.CheckpointEveryN = DefaultCheckpointEveryN
	}
	if cfg.Compression == "" {
		cfg.Compression = CompressionNone
	}
	if !ValidCompression(cfg.Compression) {
		return nil, fmt.Errorf("persistence: unsupported compression %q", cfg.Compression)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("persistence: failed to create checkpoint dir: %w", err)
	}

	return &Coordinator{
		cfg:       cfg,
		manifests: manifest.NewStore(cfg.Dir),
		log:       w,
		logger:    cfg.Logger,
	}, nil
}

// Recover loads the committed checkpoint, or returns empty state on a
// fresh directory. Corruption is fatal: a checkpoint that fails its
// checksum or whose index and mapping disagree in size yields an error.
func (c *Coordinator) Recover(ctx context.Context) (*flat.Index, *mapping.Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.manifests.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("persistence: failed to load manifest: %w", err)
	}

	if m.ID == 0 {
		idx, err := flat.New(c.cfg.Dimension)
		if err != nil {
			return nil, nil, err
		}
		c.index = idx
		c.table = mapping.New()
		c.current = *m
		c.logger.Info("no checkpoint found, starting empty", slog.Int("dimension", c.cfg.Dimension))
		return c.index, c.table, nil
	}

	if m.Dimension != c.cfg.Dimension {
		return nil, nil, fmt.Errorf("persistence: checkpoint dimension %d does not match configured %d",
			m.Dimension, c.cfg.Dimension)
	}

	start := time.Now()

	idx, err := recoverArtifact(ctx, c.cfg.Dir, m, IndexFileName, flat.Load)
	if err != nil {
		return nil, nil, err
	}

	table, err := recoverArtifact(ctx, c.cfg.Dir, m, MappingFileName, func(r io.Reader) (*mapping.Table, error) {
		t := mapping.New()
		if err := t.Load(r); err != nil {
			return nil, err
		}
		return t, nil
	})
	if err != nil {
		return nil, nil, err
	}

	if idx.Len() != table.Len() {
		return nil, nil, fmt.Errorf("persistence: checkpoint inconsistent: index has %d vectors, mapping has %d entries",
			idx.Len(), table.Len())
	}
	if idx.Len() != m.Count {
		return nil, nil, fmt.Errorf("persistence: checkpoint inconsistent: manifest records %d vectors, index has %d",
			m.Count, idx.Len())
	}

	c.index = idx
	c.table = table
	c.current = *m

	c.logger.Info("checkpoint recovered",
		slog.Uint64("generation", m.ID),
		slog.Int("count", idx.Len()),
		slog.Duration("took", time.Since(start)),
	)

	return c.index, c.table, nil
}

// recoverArtifact verifies one artifact's checksum against the manifest,
// then decodes it with the compression the manifest records.
func recoverArtifact[T any](ctx context.Context, dir string, m *manifest.Manifest, name string, decode func(io.Reader) (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	info, ok := m.File(name)
	if !ok {
		return zero, fmt.Errorf("persistence: manifest is missing %s", name)
	}
	path := filepath.Join(dir, name)

	if err := verifyChecksum(path, info); err != nil {
		return zero, err
	}

	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("persistence: failed to open %s: %w", name, err)
	}
	defer f.Close()

	r, err := decompressReader(m.Compression, f)
	if err != nil {
		return zero, err
	}

	v, err := decode(r)
	if err != nil {
		return zero, fmt.Errorf("persistence: failed to decode %s: %w", name, err)
	}
	return v, nil
}

// verifyChecksum checks the on-disk bytes against the manifest record.
func verifyChecksum(path string, info manifest.FileInfo) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("persistence: failed to open %s: %w", info.Name, err)
	}
	defer f.Close()

	h := hash.NewCRC32C()
	size, err := io.Copy(h, f)
	if err != nil {
		return fmt.Errorf("persistence: failed to read %s: %w", info.Name, err)
	}

	if size != info.Size {
		return fmt.Errorf("persistence: %s size mismatch: manifest records %d bytes, file has %d",
			info.Name, info.Size, size)
	}
	if h.Sum32() != info.CRC32C {
		return fmt.Errorf("persistence: %s checksum mismatch: manifest records %08x, file has %08x",
			info.Name, info.CRC32C, h.Sum32())
	}
	return nil
}

// NoteInsert counts an applied insert and checkpoints once the every-N
// threshold is reached. When pacing denies a background slot the trigger
// carries over to the next insert.
func (c *Coordinator) NoteInsert(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inserts++
	if c.inserts < c.cfg.CheckpointEveryN {
		return nil
	}

	if c.cfg.Controller != nil {
		if !c.cfg.Controller.TryAcquireBackground() {
			return nil
		}
		defer c.cfg.Controller.ReleaseBackground()
	}

	if err := c.checkpointLocked(ctx); err != nil {
		return err
	}
	c.inserts = 0
	return nil
}

// Checkpoint persists the current index and mapping as a new committed
// generation. The caller must ensure the index and mapping are mutually
// consistent for the duration of the call.
func (c *Coordinator) Checkpoint(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Controller != nil {
		if err := c.cfg.Controller.AcquireBackground(ctx); err != nil {
			return err
		}
		defer c.cfg.Controller.ReleaseBackground()
	}

	if err := c.checkpointLocked(ctx); err != nil {
		return err
	}
	c.inserts = 0
	return nil
}

func (c *Coordinator) checkpointLocked(ctx context.Context) error {
	if c.index == nil || c.table == nil {
		return fmt.Errorf("persistence: checkpoint before recovery")
	}
	if c.index.Len() != c.table.Len() {
		return fmt.Errorf("persistence: refusing checkpoint: index has %d vectors, mapping has %d entries",
			c.index.Len(), c.table.Len())
	}

	start := time.Now()

	indexInfo, err := c.writeArtifact(ctx, IndexFileName, c.index.Save)
	if err != nil {
		return err
	}
	mappingInfo, err := c.writeArtifact(ctx, MappingFileName, c.table.Save)
	if err != nil {
		return err
	}

	m := manifest.Manifest{
		ID:          c.current.ID,
		Dimension:   c.cfg.Dimension,
		Count:       c.index.Len(),
		Compression: c.cfg.Compression,
		CreatedAt:   time.Now().UTC(),
		Files:       []manifest.FileInfo{indexInfo, mappingInfo},
	}
	if c.log != nil {
		m.WALSeq = c.log.SeqNum()
	}

	if err := c.manifests.Save(&m); err != nil {
		return fmt.Errorf("persistence: failed to commit manifest: %w", err)
	}
	c.current = m

	// Logged inserts are covered by the committed snapshot; truncate.
	if c.log != nil {
		if err := c.log.Checkpoint(); err != nil {
			return fmt.Errorf("persistence: failed to checkpoint WAL: %w", err)
		}
	}

	// Superseded manifests are garbage once CURRENT points past them.
	if err := c.manifests.Prune(); err != nil {
		c.logger.Warn("manifest prune failed", slog.Uint64("generation", m.ID), slog.Any("error", err))
	}

	c.logger.Info("checkpoint committed",
		slog.Uint64("generation", m.ID),
		slog.Int("count", m.Count),
		slog.String("compression", m.Compression),
		slog.Duration("took", time.Since(start)),
	)

	if c.cfg.Mirror != nil {
		// Mirror failures never fail the local commit; the next checkpoint
		// retries with a fresh generation.
		if err := c.mirror(ctx, &m); err != nil {
			c.logger.Warn("checkpoint mirror failed", slog.Uint64("generation", m.ID), slog.Any("error", err))
		}
	}

	return nil
}

// writeArtifact saves one artifact through temp file, fsync and rename,
// recording the size and CRC32C of the final on-disk bytes.
func (c *Coordinator) writeArtifact(ctx context.Context, name string, save func(w io.Writer) error) (manifest.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return manifest.FileInfo{}, err
	}

	path := filepath.Join(c.cfg.Dir, name)
	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return manifest.FileInfo{}, err
	}
	defer func() {
		if f != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	var sink io.Writer = f
	if c.cfg.Controller != nil {
		sink = resource.NewRateLimitedWriter(ctx, f, c.cfg.Controller)
	}

	h := hash.NewCRC32C()
	counted := &countingWriter{w: io.MultiWriter(sink, h)}

	cw, err := compressWriter(c.cfg.Compression, counted)
	if err != nil {
		return manifest.FileInfo{}, err
	}
	if err := save(cw); err != nil {
		return manifest.FileInfo{}, fmt.Errorf("persistence: failed to write %s: %w", name, err)
	}
	if err := cw.Close(); err != nil {
		return manifest.FileInfo{}, fmt.Errorf("persistence: failed to finish %s: %w", name, err)
	}

	if err := f.Sync(); err != nil {
		return manifest.FileInfo{}, err
	}
	if err := f.Close(); err != nil {
		f = nil
		_ = os.Remove(tmpPath)
		return manifest.FileInfo{}, err
	}
	f = nil

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return manifest.FileInfo{}, err
	}
	if err := syncDir(c.cfg.Dir); err != nil {
		return manifest.FileInfo{}, err
	}

	return manifest.FileInfo{Name: name, Size: counted.n, CRC32C: h.Sum32()}, nil
}

// mirror uploads the generation's artifacts and records the commit marker.
func (c *Coordinator) mirror(ctx context.Context, m *manifest.Manifest) error {
	genPrefix := fmt.Sprintf("gen-%06d/", m.ID)

	for _, info := range m.Files {
		f, err := os.Open(filepath.Join(c.cfg.Dir, info.Name))
		if err != nil {
			return err
		}

		var r io.Reader = f
		if c.cfg.Controller != nil {
			r = resource.NewRateLimitedReader(ctx, f, c.cfg.Controller)
		}
		err = c.cfg.Mirror.Put(ctx, genPrefix+info.Name, r, info.Size)
		_ = f.Close()
		if err != nil {
			return err
		}
	}

	manifestName := fmt.Sprintf("%s-%06d.json", manifest.FileNamePrefix, m.ID)
	mf, err := os.Open(filepath.Join(c.cfg.Dir, manifestName))
	if err != nil {
		return err
	}
	err = c.cfg.Mirror.Put(ctx, genPrefix+manifestName, mf, -1)
	_ = mf.Close()
	if err != nil {
		return err
	}

	if c.cfg.Committer != nil {
		if _, err := c.cfg.Committer.Commit(ctx, genPrefix+manifestName); err != nil {
			return err
		}
	}
	return nil
}

// Generation returns the committed manifest generation and the WAL
// sequence it covers.
func (c *Coordinator) Generation() (uint64, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.ID, c.current.WALSeq
}

// LastCheckpoint returns when the committed generation was created, or the
// zero time before the first checkpoint.
func (c *Coordinator) LastCheckpoint() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.CreatedAt
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
