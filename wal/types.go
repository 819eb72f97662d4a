package wal

import "time"

// DurabilityMode defines the fsync behavior for WAL writes.
type DurabilityMode int

const (
	// DurabilityAsync performs no fsync. Fastest writes, but entries since
	// the last flush are lost on crash.
	DurabilityAsync DurabilityMode = iota

	// DurabilityGroupCommit batches fsync across operations: a write blocks
	// until a background flush (or a batch-size trigger) has persisted its
	// sequence number. Balanced default.
	DurabilityGroupCommit

	// DurabilitySync fsyncs after every append. Slowest, strongest.
	DurabilitySync
)

// OperationType is the kind of a WAL entry.
type OperationType uint8

const (
	// OpAdd records a new embedding appended for a card.
	OpAdd OperationType = iota

	// OpReplace records an embedding overwritten in a card's existing slot.
	OpReplace

	// OpCheckpoint marks a durable snapshot; replay stops here.
	OpCheckpoint
)

// Entry is a single logged operation.
type Entry struct {
	Type   OperationType
	SeqNum uint64
	CardID string
	Vector []float32
}

// Options configures the WAL.
type Options struct {
	// Path is the directory where the WAL file lives.
	Path string

	// Compress enables zstd compression of the entry stream.
	Compress bool

	// CompressionLevel sets the zstd level (1-22) when Compress is on.
	CompressionLevel int

	// DurabilityMode controls fsync behavior.
	DurabilityMode DurabilityMode

	// GroupCommitInterval is the background flush cadence in GroupCommit
	// mode.
	GroupCommitInterval time.Duration

	// GroupCommitMaxOps triggers an immediate flush once this many appends
	// are pending.
	GroupCommitMaxOps int
}

// DefaultOptions returns the default WAL configuration.
var DefaultOptions = Options{
	Path:                ".",
	Compress:            false,
	CompressionLevel:    3,
	DurabilityMode:      DurabilityGroupCommit,
	GroupCommitInterval: 10 * time.Millisecond,
	GroupCommitMaxOps:   100,
}
