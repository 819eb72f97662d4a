package cardex

import "time"

// Stats is a point-in-time summary of a store.
type Stats struct {
	// TotalCards is the number of metadata records.
	TotalCards int64 `json:"total_cards"`

	// IndexSize is the number of embeddings in the vector index.
	IndexSize int `json:"index_size"`

	// MappedCards is the number of card<->slot bindings. Always equals
	// IndexSize in a healthy store.
	MappedCards int `json:"mapped_cards"`

	// Dimension is the configured embedding dimensionality.
	Dimension int `json:"dimension"`

	// ByCategory is the card count per category.
	ByCategory map[string]int64 `json:"by_category"`

	// CheckpointGeneration is the committed manifest generation, 0 before
	// the first checkpoint.
	CheckpointGeneration uint64 `json:"checkpoint_generation"`

	// LastCheckpoint is when the committed generation was created, zero
	// before the first checkpoint.
	LastCheckpoint time.Time `json:"last_checkpoint"`

	// WALSeq is the current write-ahead log sequence number, 0 when the
	// WAL is disabled.
	WALSeq uint64 `json:"wal_seq"`
}
