package model

import "time"

// Slot is the dense position of an embedding within the vector index.
// Slots are assigned monotonically starting at 0 and are never reused.
type Slot uint32

// Card is the durable metadata record for one collectible card.
//
// A card with neither a perceptual hash nor an indexed embedding is valid:
// name and category can be registered without an image.
type Card struct {
	// ID is the globally unique card identifier. Immutable after creation.
	ID string `json:"card_id"`

	// Name is the card's display name.
	Name string `json:"name"`

	// SetName is the card set or expansion the card belongs to.
	SetName string `json:"set_name,omitempty"`

	// Category is one of the registered trading-card-game categories.
	Category string `json:"category"`

	// ExternalPriceID is an opaque product identifier at the external
	// price provider. Empty when the card has no provider listing.
	ExternalPriceID string `json:"external_price_id,omitempty"`

	// PerceptualHash is the hex-encoded 64-bit average hash of the card
	// image. Empty when no image was supplied.
	PerceptualHash string `json:"perceptual_hash,omitempty"`

	// ImageRef is a URL or blobstore key for the card image.
	// It is not interpreted by the matching core.
	ImageRef string `json:"image_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchKind tags how a candidate was found.
type MatchKind string

const (
	// MatchKindEmbedding marks a candidate found by cosine similarity
	// over embeddings.
	MatchKindEmbedding MatchKind = "embedding"

	// MatchKindHash marks a candidate found by perceptual-hash distance.
	MatchKindHash MatchKind = "hash"
)

// Match is one ranked candidate returned by a similarity query.
type Match struct {
	Card

	// Score is the candidate's confidence in [0, 1] range for hash
	// matches and [-1, 1] cosine similarity for embedding matches.
	Score float32 `json:"score"`

	// Kind reports which mechanism produced the match.
	Kind MatchKind `json:"match_kind"`
}

// Registered trading-card-game categories.
const (
	CategoryPokemon       = "pokemon"
	CategoryMagic         = "magic_the_gathering"
	CategoryYugioh        = "yugioh"
	CategorySports        = "sports"
	CategoryOnePiece      = "one_piece"
	CategoryLorcana       = "disney_lorcana"
	CategoryFleshAndBlood = "flesh_and_blood"
	CategoryOther         = "other"
)

// Categories returns the fixed category registry in display order.
func Categories() []string {
	return []string{
		CategoryPokemon,
		CategoryMagic,
		CategoryYugioh,
		CategorySports,
		CategoryOnePiece,
		CategoryLorcana,
		CategoryFleshAndBlood,
		CategoryOther,
	}
}

// ValidCategory reports whether category is part of the fixed registry.
func ValidCategory(category string) bool {
	switch category {
	case CategoryPokemon, CategoryMagic, CategoryYugioh, CategorySports,
		CategoryOnePiece, CategoryLorcana, CategoryFleshAndBlood, CategoryOther:
		return true
	default:
		return false
	}
}
