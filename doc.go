// Package cardex provides an embeddable hybrid matching store for
// collectible trading cards.
//
// Cardex combines three retrieval mechanisms behind one API: durable card
// metadata in SQLite, brute-force cosine similarity over image embeddings,
// and Hamming-distance search over 64-bit perceptual hashes. A query may
// carry an embedding, a hash, or both; the branches run concurrently and
// merge into a single ranked, deduplicated candidate list.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := cardex.Open(ctx, "./data", cardex.WithDimension(2048))
//	defer db.Close(ctx)
//
//	card, _ := db.AddCard(ctx, model.Card{
//	    Name:           "Charizard",
//	    SetName:        "Base Set",
//	    Category:       model.CategoryPokemon,
//	    PerceptualHash: "a1b2c3d4e5f60718",
//	}, embedding)
//
//	result, _ := db.FindMatches(ctx, matcher.Query{
//	    Embedding: queryEmbedding,
//	    Hash:      queryHash,
//	}, matcher.WithTopK(5), matcher.WithCategory(model.CategoryPokemon))
//
// # Durability
//
// Embedding inserts are logged to a write-ahead log before they are
// applied, and the index plus its card<->slot mapping checkpoint jointly
// every N inserts (default 100) under a manifest generation. On open the
// committed checkpoint is loaded, the log replayed, and the category
// posting lists rebuilt from the metadata store. Checkpoints can be
// mirrored to object storage (S3 or MinIO) with DynamoDB commit markers.
//
// # Degraded Mode
//
// The embedding provider is external; when it is unreachable callers fall
// back to hash-only matching. Result.Attempted reports which branches ran,
// so a miss is distinguishable from a degraded search.
package cardex
