// Package model defines the core types shared across the cardex store.
//
// # Identity Types
//
//   - Card.ID: Globally unique, durable card identifier (string, immutable)
//   - Slot: Dense position of a card's embedding in the vector index (uint32)
//
// # Data Types
//
//   - Card: The durable metadata record for one collectible card
//   - Match: A ranked search candidate with score and match kind
//
// A Slot is distinct from a card's durable identifier: slots are assigned
// monotonically as embeddings are appended and are never reused.
package model
